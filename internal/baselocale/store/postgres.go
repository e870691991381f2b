package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "embed"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"balregistry/internal/baselocale/models"
	"balregistry/internal/export"
	id "balregistry/pkg/domain"
	"balregistry/pkg/platform/sentinel"
	txcontext "balregistry/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

// Postgres persists base locales in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens a pooled connection and returns the store.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing connection (integration tests, shared pools).
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Close() error { return s.db.Close() }

func (s *Postgres) DB() *sql.DB { return s.db }

// EnsureSchema applies the embedded schema. Idempotent.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const baseLocaleColumns = `
	id, name, commune_code, emails, status, habilitation_id, token_hash,
	sync_status, sync_paused, sync_current_updated, sync_last_uploaded_revision_id,
	created_at, updated_at, deleted_at`

// Create inserts a base locale.
func (s *Postgres) Create(ctx context.Context, bl *models.BaseLocale) error {
	query := `
		INSERT INTO bases_locales (` + baseLocaleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.db.ExecContext(ctx, query,
		bl.ID.String(),
		bl.Name,
		bl.CommuneCode.String(),
		pq.Array(bl.Emails),
		string(bl.Status),
		nullString(string(bl.HabilitationID)),
		bl.TokenHash,
		nullString(string(bl.Sync.Status)),
		bl.Sync.IsPaused,
		nullTime(bl.Sync.CurrentUpdated),
		nullString(string(bl.Sync.LastUploadedRevisionID)),
		bl.CreatedAt,
		bl.UpdatedAt,
		bl.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert base locale: %w", err)
	}
	return nil
}

// FindByID loads one base locale, or sentinel.ErrNotFound.
func (s *Postgres) FindByID(ctx context.Context, blID id.BaseLocaleID) (*models.BaseLocale, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+baseLocaleColumns+` FROM bases_locales WHERE id = $1`, blID.String())
	bl, err := scanBaseLocale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("base locale %s: %w", blID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find base locale: %w", err)
	}
	return bl, nil
}

// FindSyncable lists the scheduler's work set: published, unpaused, undeleted.
func (s *Postgres) FindSyncable(ctx context.Context) ([]*models.BaseLocale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+baseLocaleColumns+`
		FROM bases_locales
		WHERE status = $1 AND sync_paused = FALSE AND deleted_at IS NULL
		ORDER BY updated_at ASC
	`, string(models.StatusPublished))
	if err != nil {
		return nil, fmt.Errorf("find syncable: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.BaseLocale
	for rows.Next() {
		bl, err := scanBaseLocale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan syncable: %w", err)
		}
		out = append(out, bl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate syncable: %w", err)
	}
	return out, nil
}

// CountAddressRows counts live numeros for the base locale.
func (s *Postgres) CountAddressRows(ctx context.Context, blID id.BaseLocaleID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM numeros WHERE base_locale_id = $1 AND deleted_at IS NULL`,
		blID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count address rows: %w", err)
	}
	return count, nil
}

// Rows loads the live address rows for the canonical export.
func (s *Postgres) Rows(ctx context.Context, blID id.BaseLocaleID) ([]export.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT voie_nom, numero, suffixe, lon, lat, certified
		FROM numeros
		WHERE base_locale_id = $1 AND deleted_at IS NULL
	`, blID.String())
	if err != nil {
		return nil, fmt.Errorf("load address rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []export.Row
	for rows.Next() {
		var r export.Row
		if err := rows.Scan(&r.VoieNom, &r.Numero, &r.Suffixe, &r.Lon, &r.Lat, &r.Certified); err != nil {
			return nil, fmt.Errorf("scan address row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate address rows: %w", err)
	}
	return out, nil
}

// Execute atomically loads the base locale under a row lock, runs validate,
// then applies mutate and writes the result back in the same transaction.
// inTx hooks run after the write, still inside the transaction; their context
// carries the *sql.Tx (pkg/platform/tx) so stores that understand it, like
// the event outbox, join it. A hook error rolls the whole write back.
func (s *Postgres) Execute(
	ctx context.Context,
	blID id.BaseLocaleID,
	validate func(*models.BaseLocale) error,
	mutate func(*models.BaseLocale),
	inTx ...func(context.Context, *models.BaseLocale) error,
) (*models.BaseLocale, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+baseLocaleColumns+` FROM bases_locales WHERE id = $1 FOR UPDATE`, blID.String())
	bl, err := scanBaseLocale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("base locale %s: %w", blID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("lock base locale: %w", err)
	}

	if validate != nil {
		if err := validate(bl); err != nil {
			return nil, err
		}
	}
	if mutate != nil {
		mutate(bl)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE bases_locales SET
			name = $2,
			emails = $3,
			status = $4,
			habilitation_id = $5,
			token_hash = $6,
			sync_status = $7,
			sync_paused = $8,
			sync_current_updated = $9,
			sync_last_uploaded_revision_id = $10,
			updated_at = $11,
			deleted_at = $12
		WHERE id = $1
	`,
		bl.ID.String(),
		bl.Name,
		pq.Array(bl.Emails),
		string(bl.Status),
		nullString(string(bl.HabilitationID)),
		bl.TokenHash,
		nullString(string(bl.Sync.Status)),
		bl.Sync.IsPaused,
		nullTime(bl.Sync.CurrentUpdated),
		nullString(string(bl.Sync.LastUploadedRevisionID)),
		bl.UpdatedAt,
		bl.DeletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update base locale: %w", err)
	}

	txCtx := txcontext.WithTx(ctx, tx)
	for _, hook := range inTx {
		if err := hook(txCtx, bl); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return bl, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBaseLocale(row rowScanner) (*models.BaseLocale, error) {
	var (
		bl             models.BaseLocale
		rawID          string
		rawCommune     string
		emails         pq.StringArray
		status         string
		habilitationID sql.NullString
		syncStatus     sql.NullString
		currentUpdated sql.NullTime
		lastRevisionID sql.NullString
		deletedAt      sql.NullTime
	)
	err := row.Scan(
		&rawID,
		&bl.Name,
		&rawCommune,
		&emails,
		&status,
		&habilitationID,
		&bl.TokenHash,
		&syncStatus,
		&bl.Sync.IsPaused,
		&currentUpdated,
		&lastRevisionID,
		&bl.CreatedAt,
		&bl.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	blID, err := id.ParseBaseLocaleID(rawID)
	if err != nil {
		return nil, fmt.Errorf("stored base locale id: %w", err)
	}
	bl.ID = blID
	bl.CommuneCode = id.CommuneCode(rawCommune)
	bl.Emails = []string(emails)
	bl.Status = models.BaseLocaleStatus(status)
	if habilitationID.Valid {
		bl.HabilitationID = id.HabilitationID(habilitationID.String)
	}
	if syncStatus.Valid {
		bl.Sync.Status = models.SyncStatus(syncStatus.String)
	}
	if currentUpdated.Valid {
		bl.Sync.CurrentUpdated = currentUpdated.Time
	}
	if lastRevisionID.Valid {
		bl.Sync.LastUploadedRevisionID = id.RevisionID(lastRevisionID.String)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		bl.DeletedAt = &t
	}
	return &bl, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
