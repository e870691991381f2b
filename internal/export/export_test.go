package export

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balregistry/internal/baselocale/models"
	id "balregistry/pkg/domain"
)

func testBaseLocale(t *testing.T) *models.BaseLocale {
	t.Helper()
	bl, err := models.NewBaseLocale(id.NewBaseLocaleID(), "Adresses de Breux", "27115", nil, time.Now())
	require.NoError(t, err)
	return bl
}

func sampleRows() []Row {
	return []Row{
		{VoieNom: "rue des Lilas", Numero: 12, Suffixe: "bis", Lon: 1.151000, Lat: 48.743210, Certified: true},
		{VoieNom: "place de la Mairie", Numero: 1, Lon: 1.149, Lat: 48.744},
		{VoieNom: "rue des Lilas", Numero: 3, Lon: 1.1507, Lat: 48.7428},
	}
}

func TestCSVIsDeterministic(t *testing.T) {
	bl := testBaseLocale(t)

	a, err := CSV(bl, sampleRows())
	require.NoError(t, err)

	// Same content in a different input order must hash identically.
	shuffled := []Row{sampleRows()[2], sampleRows()[0], sampleRows()[1]}
	b, err := CSV(bl, shuffled)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, Hash(a), Hash(b))
}

func TestCSVShape(t *testing.T) {
	bl := testBaseLocale(t)
	out, err := CSV(bl, sampleRows())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "commune_insee;voie_nom;numero;suffixe;long;lat;certification_commune", lines[0])
	// Sorted by voie then numero then suffixe.
	assert.True(t, strings.HasPrefix(lines[1], "27115;place de la Mairie;1;"))
	assert.True(t, strings.HasPrefix(lines[2], "27115;rue des Lilas;3;"))
	assert.True(t, strings.HasPrefix(lines[3], "27115;rue des Lilas;12;bis;"))
	assert.True(t, strings.HasSuffix(lines[3], ";1"), "certified row ends with 1")
}

func TestCSVDoesNotMutateInput(t *testing.T) {
	bl := testBaseLocale(t)
	rows := sampleRows()
	first := rows[0]

	_, err := CSV(bl, rows)
	require.NoError(t, err)
	assert.Equal(t, first, rows[0])
}

func TestHashChangesWithContent(t *testing.T) {
	bl := testBaseLocale(t)

	a, err := CSV(bl, sampleRows())
	require.NoError(t, err)

	edited := sampleRows()
	edited[0].Numero = 14
	b, err := CSV(bl, edited)
	require.NoError(t, err)

	assert.NotEqual(t, Hash(a), Hash(b))
}

func TestExporter(t *testing.T) {
	bl := testBaseLocale(t)
	src := stubSource{rows: sampleRows()}

	out, err := NewExporter(src).Export(context.Background(), bl)
	require.NoError(t, err)
	assert.Contains(t, string(out), "rue des Lilas")
}

type stubSource struct {
	rows []Row
}

func (s stubSource) Rows(context.Context, id.BaseLocaleID) ([]Row, error) {
	return s.rows, nil
}
