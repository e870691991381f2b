package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"balregistry/internal/baselocale/models"
	"balregistry/internal/deposit"
	"balregistry/internal/event"
	"balregistry/internal/export"
	syncmetrics "balregistry/internal/sync/metrics"
	id "balregistry/pkg/domain"
	"balregistry/pkg/email"
	"balregistry/pkg/platform/sentinel"
	"balregistry/pkg/requestcontext"
)

// Options tunes a single reconciliation run.
type Options struct {
	// Force allows reconciliation to overwrite a detected conflict: the local
	// content is published over the diverged remote head. Without Force a
	// conflicted base locale is left untouched for an operator to resolve.
	Force bool
}

// Reconcile runs one publication/synchronization cycle for a base locale.
//
// The run is serialized per base locale id: concurrent calls for the same id
// queue behind the lock and each sees the state the previous run left behind,
// so a second identical run is a no-op. Guard failures that need operator
// attention pause the base locale before returning; transport failures
// return without touching any state.
func (e *Engine) Reconcile(ctx context.Context, blID id.BaseLocaleID, opts Options) (*models.BaseLocale, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Reconcile", trace.WithAttributes(
		attribute.String("base_locale.id", blID.String()),
		attribute.Bool("force", opts.Force),
	))
	defer span.End()

	release, err := e.locks.Acquire(ctx, blID)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	defer release()

	bl, err := e.store.FindByID(ctx, blID)
	if err != nil {
		e.metrics.ObserveReconcile(syncmetrics.OutcomeError)
		return nil, translateStoreErr(err)
	}

	hab, err := e.checkGuards(ctx, bl)
	if err != nil {
		e.metrics.ObserveReconcile(syncmetrics.OutcomeGuardFailed)
		return nil, err
	}

	switch bl.Status {
	case models.StatusDraft:
		return e.firstPublication(ctx, bl, hab)
	case models.StatusPublished:
		return e.resync(ctx, bl, hab, opts)
	default:
		e.metrics.ObserveReconcile(syncmetrics.OutcomeGuardFailed)
		return nil, guardErr(bl.ID, ErrNotSyncable)
	}
}

// checkGuards walks the precondition chain in order and returns the accepted
// habilitation when every guard passes. Grant-related failures pause the base
// locale; an empty dataset does not, it clears itself once rows exist.
func (e *Engine) checkGuards(ctx context.Context, bl *models.BaseLocale) (*deposit.Habilitation, error) {
	if err := bl.CanSync(); err != nil {
		return nil, guardErr(bl.ID, ErrNotSyncable)
	}

	if !bl.HasHabilitation() {
		e.pause(ctx, bl.ID)
		return nil, guardErr(bl.ID, ErrNoHabilitation)
	}

	hab, err := e.gateway.GetHabilitation(ctx, bl.HabilitationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// The deposit service forgot the grant. Same operator remedy as
			// never having one.
			e.pause(ctx, bl.ID)
			return nil, guardErr(bl.ID, ErrNoHabilitation)
		}
		return nil, fmt.Errorf("fetch habilitation %s: %w", bl.HabilitationID, err)
	}

	if !hab.IsAccepted() {
		e.pause(ctx, bl.ID)
		return nil, guardErr(bl.ID, ErrHabilitationNotAccepted)
	}
	if hab.IsExpired(requestcontext.Now(ctx)) {
		e.pause(ctx, bl.ID)
		return nil, guardErr(bl.ID, ErrHabilitationExpired)
	}

	count, err := e.store.CountAddressRows(ctx, bl.ID)
	if err != nil {
		return nil, fmt.Errorf("count address rows: %w", err)
	}
	if count == 0 {
		return nil, guardErr(bl.ID, ErrEmptyDataset)
	}
	return hab, nil
}

// firstPublication moves a draft base locale to published by creating its
// first revision on the deposit service, then notifies the commune's
// registered addresses. The state transition is committed before the
// notification goes out so a mail failure never leaves a published revision
// behind an unpublished base locale.
func (e *Engine) firstPublication(ctx context.Context, bl *models.BaseLocale, hab *deposit.Habilitation) (*models.BaseLocale, error) {
	now := requestcontext.Now(ctx)

	content, err := e.exporter.Export(ctx, bl)
	if err != nil {
		e.metrics.ObserveReconcile(syncmetrics.OutcomeError)
		return nil, fmt.Errorf("export base locale %s: %w", bl.ID, err)
	}

	rev, err := e.publish(ctx, bl, content, hab)
	if err != nil {
		e.metrics.ObserveReconcile(syncmetrics.OutcomeError)
		return nil, err
	}

	updated, err := e.store.Execute(ctx, bl.ID,
		func(b *models.BaseLocale) error { return b.CanPublish() },
		func(b *models.BaseLocale) { b.ApplyPublication(rev.ID, now) },
		e.eventHook(func(b *models.BaseLocale) event.Event {
			return event.Event{
				Type:        event.TypePublished,
				BaseLocale:  b.ID,
				CommuneCode: b.CommuneCode,
				RevisionID:  rev.ID,
			}
		}),
	)
	if err != nil {
		e.metrics.ObserveReconcile(syncmetrics.OutcomeError)
		return nil, translateStoreErr(err)
	}

	// The commune contacts the deposit service knows about get notified too,
	// not just the addresses registered on the base locale.
	notified := *updated
	notified.Emails = email.Dedupe(append(append([]string(nil), updated.Emails...), hab.EmailsCommune...))
	if err := e.notifier.SendPublishedNotification(ctx, &notified); err != nil {
		e.logger.ErrorContext(ctx, "failed to send publication notification",
			"base_locale_id", bl.ID.String(), "error", err)
	}

	e.logger.InfoContext(ctx, "base locale published",
		"base_locale_id", updated.ID.String(),
		"commune_code", updated.CommuneCode.String(),
		"revision_id", string(rev.ID))
	e.metrics.ObserveReconcile(syncmetrics.OutcomePublished)
	return updated, nil
}

// resync recomputes a published base locale's sync truth against the remote
// head, then pushes local edits when there are any.
func (e *Engine) resync(ctx context.Context, bl *models.BaseLocale, hab *deposit.Habilitation, opts Options) (*models.BaseLocale, error) {
	if bl.Sync.Status == models.SyncStatusConflict && !opts.Force {
		// A known conflict is an operator decision, not something a periodic
		// run may settle. Leave it exactly as found.
		e.metrics.ObserveReconcile(syncmetrics.OutcomeConflict)
		return bl, nil
	}

	head, err := e.gateway.GetCurrentRevision(ctx, bl.CommuneCode)
	if err != nil {
		e.metrics.ObserveReconcile(syncmetrics.OutcomeError)
		return nil, fmt.Errorf("fetch current revision for commune %s: %w", bl.CommuneCode, err)
	}

	var overwritten id.RevisionID
	if head == nil || head.ID != bl.Sync.LastUploadedRevisionID {
		// Another actor published (or deleted) a revision behind our back.
		if head != nil {
			overwritten = head.ID
		}
		conflicted, err := e.markConflict(ctx, bl, overwritten)
		if err != nil {
			e.metrics.ObserveReconcile(syncmetrics.OutcomeError)
			return nil, err
		}
		if !opts.Force {
			e.metrics.ObserveReconcile(syncmetrics.OutcomeConflict)
			return conflicted, nil
		}
		bl = conflicted
	} else if !bl.UpdatedAt.After(bl.Sync.CurrentUpdated) {
		// No local edits since the last reconciliation.
		if bl.Sync.Status != models.SyncStatusSynced {
			bl, err = e.store.Execute(ctx, bl.ID,
				func(b *models.BaseLocale) error { return b.CanMarkSynced() },
				func(b *models.BaseLocale) { b.ApplyMarkSynced(head.ID, requestcontext.Now(ctx)) },
			)
			if err != nil {
				e.metrics.ObserveReconcile(syncmetrics.OutcomeError)
				return nil, translateStoreErr(err)
			}
		}
		e.metrics.ObserveReconcile(syncmetrics.OutcomeSynced)
		return bl, nil
	} else if bl.Sync.Status != models.SyncStatusOutdated {
		bl, err = e.store.Execute(ctx, bl.ID, nil,
			func(b *models.BaseLocale) { b.ApplyOutdated() },
		)
		if err != nil {
			e.metrics.ObserveReconcile(syncmetrics.OutcomeError)
			return nil, translateStoreErr(err)
		}
	}

	return e.catchUp(ctx, bl, hab, head, overwritten)
}

// markConflict persists the conflict (which also pauses) and emits the event.
func (e *Engine) markConflict(ctx context.Context, bl *models.BaseLocale, remoteHead id.RevisionID) (*models.BaseLocale, error) {
	updated, err := e.store.Execute(ctx, bl.ID, nil,
		func(b *models.BaseLocale) { b.ApplyConflict() },
		e.eventHook(func(b *models.BaseLocale) event.Event {
			return event.Event{
				Type:        event.TypeConflictDetected,
				BaseLocale:  b.ID,
				CommuneCode: b.CommuneCode,
				RevisionID:  remoteHead,
			}
		}),
	)
	if err != nil {
		return nil, translateStoreErr(err)
	}

	e.metrics.IncrementConflicts()
	e.logger.WarnContext(ctx, "sync conflict detected",
		"base_locale_id", updated.ID.String(),
		"commune_code", updated.CommuneCode.String(),
		"local_revision_id", string(bl.Sync.LastUploadedRevisionID),
		"remote_revision_id", string(remoteHead))
	return updated, nil
}

// catchUp aligns a drifted base locale with the remote: when the exported
// content already matches the remote head's bal file byte for byte, the sync
// pointer adopts that revision instead of creating a duplicate one.
func (e *Engine) catchUp(ctx context.Context, bl *models.BaseLocale, hab *deposit.Habilitation, head *deposit.Revision, overwritten id.RevisionID) (*models.BaseLocale, error) {
	now := requestcontext.Now(ctx)

	content, err := e.exporter.Export(ctx, bl)
	if err != nil {
		e.metrics.ObserveReconcile(syncmetrics.OutcomeError)
		return nil, fmt.Errorf("export base locale %s: %w", bl.ID, err)
	}

	if head != nil && export.Hash(content) == head.FileHash(deposit.FileTypeBal) {
		updated, err := e.store.Execute(ctx, bl.ID,
			func(b *models.BaseLocale) error { return b.CanMarkSynced() },
			func(b *models.BaseLocale) { b.ApplyMarkSynced(head.ID, now) },
			e.eventHook(func(b *models.BaseLocale) event.Event {
				return event.Event{
					Type:        event.TypeSyncCaughtUp,
					BaseLocale:  b.ID,
					CommuneCode: b.CommuneCode,
					RevisionID:  head.ID,
				}
			}),
		)
		if err != nil {
			e.metrics.ObserveReconcile(syncmetrics.OutcomeError)
			return nil, translateStoreErr(err)
		}

		e.logger.InfoContext(ctx, "sync caught up without publishing",
			"base_locale_id", updated.ID.String(),
			"revision_id", string(head.ID))
		e.metrics.IncrementDeduplicated()
		e.metrics.ObserveReconcile(syncmetrics.OutcomeDeduplicated)
		return updated, nil
	}

	rev, err := e.publish(ctx, bl, content, hab)
	if err != nil {
		e.metrics.ObserveReconcile(syncmetrics.OutcomeError)
		return nil, err
	}

	updated, err := e.store.Execute(ctx, bl.ID,
		func(b *models.BaseLocale) error { return b.CanMarkSynced() },
		func(b *models.BaseLocale) { b.ApplyMarkSynced(rev.ID, now) },
		e.eventHook(func(b *models.BaseLocale) event.Event {
			return event.Event{
				Type:                  event.TypePublished,
				BaseLocale:            b.ID,
				CommuneCode:           b.CommuneCode,
				RevisionID:            rev.ID,
				OverwrittenRevisionID: overwritten,
			}
		}),
	)
	if err != nil {
		e.metrics.ObserveReconcile(syncmetrics.OutcomeError)
		return nil, translateStoreErr(err)
	}

	e.logger.InfoContext(ctx, "base locale revision published",
		"base_locale_id", updated.ID.String(),
		"revision_id", string(rev.ID),
		"forced", overwritten != "")
	e.metrics.ObserveReconcile(syncmetrics.OutcomePublished)
	return updated, nil
}

// publish hands the exported content to the deposit service and enforces the
// validation verdict.
func (e *Engine) publish(ctx context.Context, bl *models.BaseLocale, content []byte, hab *deposit.Habilitation) (*deposit.Revision, error) {
	start := requestcontext.Now(ctx)

	rev, err := e.gateway.PublishRevision(ctx, bl.CommuneCode, bl.ID, content, hab.ID)
	if err != nil {
		return nil, fmt.Errorf("publish revision for commune %s: %w", bl.CommuneCode, err)
	}
	if !rev.Validation.Valid {
		e.logger.WarnContext(ctx, "deposit service rejected exported content",
			"base_locale_id", bl.ID.String(),
			"validation_errors", rev.Validation.Errors)
		return nil, guardErr(bl.ID, ErrInvalidContent)
	}

	e.metrics.ObservePublish(start)
	return rev, nil
}
