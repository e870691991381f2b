// Package engine decides, for one base locale at a time, whether a new
// publication is needed, whether the habilitation still allows it, whether
// local and remote views have diverged, and how to reconcile that divergence
// deterministically and idempotently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"balregistry/internal/baselocale/models"
	"balregistry/internal/deposit"
	"balregistry/internal/event"
	"balregistry/internal/notify"
	"balregistry/internal/sync/lock"
	syncmetrics "balregistry/internal/sync/metrics"
	id "balregistry/pkg/domain"
	dErrors "balregistry/pkg/domain-errors"
	"balregistry/pkg/platform/sentinel"
)

// Store is the slice of the base locale store the engine needs.
type Store interface {
	FindByID(ctx context.Context, blID id.BaseLocaleID) (*models.BaseLocale, error)
	CountAddressRows(ctx context.Context, blID id.BaseLocaleID) (int, error)
	Execute(ctx context.Context, blID id.BaseLocaleID,
		validate func(*models.BaseLocale) error,
		mutate func(*models.BaseLocale),
		inTx ...func(context.Context, *models.BaseLocale) error) (*models.BaseLocale, error)
}

// Exporter produces the canonical serialization of a base locale's content.
// It must be deterministic: identical content yields byte-identical output.
type Exporter interface {
	Export(ctx context.Context, bl *models.BaseLocale) ([]byte, error)
}

// EventEmitter records lifecycle events. The engine emits inside the store's
// Execute transaction, so a failed append rolls the state write back with it.
type EventEmitter interface {
	Emit(ctx context.Context, e event.Event) error
}

// Engine orchestrates publication and synchronization.
type Engine struct {
	store    Store
	gateway  deposit.Client
	exporter Exporter
	notifier notify.Sender
	locks    lock.Locker
	events   EventEmitter
	logger   *slog.Logger
	metrics  *syncmetrics.Metrics
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *syncmetrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithEvents(emitter EventEmitter) Option {
	return func(e *Engine) {
		e.events = emitter
	}
}

// WithLocker overrides the default in-process locker, e.g. with the Redis
// lease locker for multi-instance deployments.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locks = l
		}
	}
}

// New builds the engine. Store, gateway, exporter and notifier are required.
func New(store Store, gateway deposit.Client, exporter Exporter, notifier notify.Sender, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("base locale store is required")
	}
	if gateway == nil {
		return nil, errors.New("deposit gateway is required")
	}
	if exporter == nil {
		return nil, errors.New("exporter is required")
	}
	if notifier == nil {
		return nil, errors.New("notification sender is required")
	}

	e := &Engine{
		store:    store,
		gateway:  gateway,
		exporter: exporter,
		notifier: notifier,
		locks:    lock.NewKeyed(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("balregistry/sync"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Pause freezes a base locale out of automatic reconciliation. Idempotent.
func (e *Engine) Pause(ctx context.Context, blID id.BaseLocaleID) (*models.BaseLocale, error) {
	bl, err := e.store.Execute(ctx, blID, nil, func(b *models.BaseLocale) {
		b.ApplyPause()
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	e.logger.InfoContext(ctx, "sync paused", "base_locale_id", blID.String())
	return bl, nil
}

// Resume re-enables automatic reconciliation. Idempotent. This is the only
// way a conflicted or guard-failed base locale re-enters the scheduler's
// work set; reconciliation itself never auto-resumes.
func (e *Engine) Resume(ctx context.Context, blID id.BaseLocaleID) (*models.BaseLocale, error) {
	bl, err := e.store.Execute(ctx, blID, nil, func(b *models.BaseLocale) {
		b.ApplyResume()
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	e.logger.InfoContext(ctx, "sync resumed", "base_locale_id", blID.String())
	return bl, nil
}

// pause is the guard-failure side effect. Best effort: the guard error is
// what the caller needs to see, not a secondary write failure.
func (e *Engine) pause(ctx context.Context, blID id.BaseLocaleID) {
	if _, err := e.store.Execute(ctx, blID, nil, func(b *models.BaseLocale) {
		b.ApplyPause()
	}); err != nil {
		e.logger.ErrorContext(ctx, "failed to pause base locale after guard failure",
			"base_locale_id", blID.String(), "error", err)
	}
}

// eventHook builds an Execute hook that appends the event inside the same
// transaction as the state write the event describes.
func (e *Engine) eventHook(build func(b *models.BaseLocale) event.Event) func(context.Context, *models.BaseLocale) error {
	return func(ctx context.Context, b *models.BaseLocale) error {
		if e.events == nil {
			return nil
		}
		if err := e.events.Emit(ctx, build(b)); err != nil {
			return fmt.Errorf("emit sync event: %w", err)
		}
		return nil
	}
}

func translateStoreErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "base locale not found")
	}
	return err
}

func guardErr(blID id.BaseLocaleID, sentinelErr *dErrors.Error) error {
	return fmt.Errorf("base locale %s: %w", blID, sentinelErr)
}
