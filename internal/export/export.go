// Package export produces the canonical serialization of a base locale's
// address content.
//
// The output must be deterministic: identical content yields byte-identical
// CSV, because the sha256 digest of this output is the engine's only
// content-change signal. Rows are sorted on a total order and floats are
// formatted with the shortest round-trip representation.
package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"balregistry/internal/baselocale/models"
	id "balregistry/pkg/domain"
)

// Row is one address entry of a base locale, flattened for export.
type Row struct {
	VoieNom   string
	Numero    int
	Suffixe   string
	Lon       float64
	Lat       float64
	Certified bool
}

// Source provides the address rows of a base locale.
type Source interface {
	Rows(ctx context.Context, blID id.BaseLocaleID) ([]Row, error)
}

// Exporter renders a base locale's current content through its Source.
type Exporter struct {
	source Source
}

func NewExporter(source Source) *Exporter {
	return &Exporter{source: source}
}

// Export produces the canonical CSV for the base locale's current rows.
func (e *Exporter) Export(ctx context.Context, bl *models.BaseLocale) ([]byte, error) {
	rows, err := e.source.Rows(ctx, bl.ID)
	if err != nil {
		return nil, fmt.Errorf("load address rows: %w", err)
	}
	return CSV(bl, rows)
}

// header is the column set of the canonical CSV.
var header = []string{
	"commune_insee",
	"voie_nom",
	"numero",
	"suffixe",
	"long",
	"lat",
	"certification_commune",
}

// CSV renders rows as the canonical semicolon-separated CSV for the given
// base locale. The input slice is not modified.
func CSV(bl *models.BaseLocale, rows []Row) ([]byte, error) {
	sorted := append([]Row(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.VoieNom != b.VoieNom {
			return a.VoieNom < b.VoieNom
		}
		if a.Numero != b.Numero {
			return a.Numero < b.Numero
		}
		return a.Suffixe < b.Suffixe
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'

	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range sorted {
		record := []string{
			bl.CommuneCode.String(),
			r.VoieNom,
			strconv.Itoa(r.Numero),
			r.Suffixe,
			strconv.FormatFloat(r.Lon, 'f', -1, 64),
			strconv.FormatFloat(r.Lat, 'f', -1, 64),
			certification(r.Certified),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Hash returns the hex sha256 digest of content, the format the deposit
// service uses for revision file hashes.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func certification(certified bool) string {
	if certified {
		return "1"
	}
	return "0"
}
