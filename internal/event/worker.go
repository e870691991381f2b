package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	// Topic carries every base locale lifecycle event, keyed by base locale
	// ID so per-registry ordering is preserved.
	Topic = "balregistry.events"

	defaultBatchSize    = 100
	defaultPollInterval = 5 * time.Second
)

// Worker ships outbox entries to Kafka.
type Worker struct {
	store    *PostgresStore
	client   *kgo.Client
	logger   *slog.Logger
	interval time.Duration
}

// NewWorker builds the outbox worker. EnsureTopic should be called once
// before Run.
func NewWorker(store *PostgresStore, client *kgo.Client, logger *slog.Logger) *Worker {
	return &Worker{
		store:    store,
		client:   client,
		logger:   logger,
		interval: defaultPollInterval,
	}
}

// EnsureTopic creates the events topic when it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, partitions int32) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, partitions, 1, nil, Topic)
	if err != nil {
		return fmt.Errorf("ensure topic %s: %w", Topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("ensure topic %s: %w", Topic, resp.Err)
	}
	return nil
}

// Run polls the outbox until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ShipPending(ctx); err != nil {
				w.logger.ErrorContext(ctx, "outbox ship failed", "error", err)
			}
		}
	}
}

// ShipPending ships one batch of unpublished outbox entries.
func (w *Worker) ShipPending(ctx context.Context) error {
	entries, err := w.store.claimBatch(ctx, defaultBatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	shipped := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		record := &kgo.Record{
			Topic: Topic,
			Key:   []byte(e.Key),
			Value: e.Payload,
			Headers: []kgo.RecordHeader{
				{Key: "event-type", Value: []byte(e.Type)},
			},
		}
		if err := w.client.ProduceSync(ctx, record).FirstErr(); err != nil {
			// Stop at the first failure to preserve per-key ordering; the
			// rest of the batch stays in the outbox for the next tick.
			w.logger.WarnContext(ctx, "produce event failed",
				"event_type", e.Type, "error", err)
			break
		}
		shipped = append(shipped, e.ID)
	}

	return w.store.markPublished(ctx, shipped)
}
