package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	txcontext "balregistry/pkg/platform/tx"
)

// PostgresStore implements Store using the transactional outbox pattern.
// Events are written to the outbox table and shipped to Kafka by the outbox
// worker; Kafka is the source of truth for downstream consumers.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a PostgreSQL event store that writes to the outbox.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	// Join the caller's transaction when one is in flight, so the event is
	// only visible if the sync write that caused it committed.
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append writes an event to the outbox table for Kafka publishing.
func (s *PostgresStore) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		"base_locale",
		e.BaseLocale.String(),
		e.Type,
		payload,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// outboxEntry is one unshipped row claimed by the worker.
type outboxEntry struct {
	ID      uuid.UUID
	Type    string
	Key     string
	Payload []byte
}

// claimBatch loads the oldest unpublished entries. Delivery is at-least-once:
// a crash between produce and markPublished re-ships the batch, and consumers
// are expected to dedupe on event identity.
func (s *PostgresStore) claimBatch(ctx context.Context, limit int) ([]outboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, aggregate_id, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []outboxEntry
	for rows.Next() {
		var e outboxEntry
		if err := rows.Scan(&e.ID, &e.Type, &e.Key, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// markPublished stamps entries as shipped.
func (s *PostgresStore) markPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET published_at = $1 WHERE id = ANY($2)`,
		time.Now(), pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
