// Package scheduler drives periodic reconciliation over every syncable base
// locale.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"balregistry/internal/baselocale/models"
	"balregistry/internal/sync/engine"
	id "balregistry/pkg/domain"
	dErrors "balregistry/pkg/domain-errors"
)

const (
	defaultInterval    = 5 * time.Minute
	defaultConcurrency = 4
)

// Store lists the base locales eligible for automatic reconciliation:
// published, unpaused, not deleted.
type Store interface {
	FindSyncable(ctx context.Context) ([]*models.BaseLocale, error)
}

// Reconciler runs one reconciliation cycle. Satisfied by *engine.Engine.
type Reconciler interface {
	Reconcile(ctx context.Context, blID id.BaseLocaleID, opts engine.Options) (*models.BaseLocale, error)
}

// Scheduler sweeps the syncable set on a fixed interval. A sweep never forces
// conflicts: operator decisions stay with operators.
type Scheduler struct {
	store       Store
	reconciler  Reconciler
	interval    time.Duration
	concurrency int
	logger      *slog.Logger
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(store Store, reconciler Reconciler, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:       store,
		reconciler:  reconciler,
		interval:    defaultInterval,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps until the context is cancelled. The first sweep happens
// immediately so a restart does not wait a full interval.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "sync scheduler started",
		"interval", s.interval.String(), "concurrency", s.concurrency)

	if err := s.Sweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "sync sweep failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sync scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sync sweep failed", "error", err)
			}
		}
	}
}

// Sweep reconciles every currently syncable base locale with bounded
// concurrency. Per-base-locale failures are logged and do not stop the
// sweep; only listing failures and context cancellation are returned.
func (s *Scheduler) Sweep(ctx context.Context) error {
	bases, err := s.store.FindSyncable(ctx)
	if err != nil {
		return err
	}
	if len(bases) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, bl := range bases {
		blID := bl.ID
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := s.reconciler.Reconcile(ctx, blID, engine.Options{}); err != nil {
				s.logSweepFailure(ctx, blID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// logSweepFailure keeps expected guard outcomes at info level. Those are
// data states, not malfunctions, and a sweep over thousands of base locales
// would otherwise drown the error log.
func (s *Scheduler) logSweepFailure(ctx context.Context, blID id.BaseLocaleID, err error) {
	switch {
	case errors.Is(err, engine.ErrEmptyDataset),
		dErrors.HasCode(err, dErrors.CodePreconditionFailed),
		dErrors.HasCode(err, dErrors.CodeInvariantViolation):
		s.logger.InfoContext(ctx, "base locale skipped during sweep",
			"base_locale_id", blID.String(), "reason", err)
	default:
		s.logger.ErrorContext(ctx, "reconciliation failed during sweep",
			"base_locale_id", blID.String(), "error", err)
	}
}
