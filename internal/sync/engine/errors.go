package engine

import (
	dErrors "balregistry/pkg/domain-errors"
)

// Guard failures. Callers branch on these with errors.Is; each carries a
// domain error code so the HTTP layer maps them without string matching.
//
// The grant-related guards pause the base locale as a side effect because
// they need operator intervention before a retry is meaningful. EmptyDataset
// and InvalidContent do not pause: they resolve themselves as content is
// fixed. Transport failures pause nothing and propagate untouched; retry
// policy belongs to the scheduler.
var (
	// ErrNotSyncable: demo (or replaced/deleted) base locales never sync.
	ErrNotSyncable = dErrors.New(dErrors.CodeInvariantViolation, "base locale is not syncable")

	// ErrNoHabilitation: no grant was ever attached. Pauses.
	ErrNoHabilitation = dErrors.New(dErrors.CodePreconditionFailed, "base locale has no habilitation")

	// ErrHabilitationNotAccepted: the grant exists but was never validated
	// (or was rejected). Pauses.
	ErrHabilitationNotAccepted = dErrors.New(dErrors.CodePreconditionFailed, "habilitation is not accepted")

	// ErrHabilitationExpired: the grant ran out, or never carried an expiry
	// (meaning it never completed validation). Pauses.
	ErrHabilitationExpired = dErrors.New(dErrors.CodePreconditionFailed, "habilitation has expired")

	// ErrEmptyDataset: nothing to publish. Does not pause.
	ErrEmptyDataset = dErrors.New(dErrors.CodePreconditionFailed, "base locale has no address rows")

	// ErrInvalidContent: the deposit service rejected the exported content.
	// The base locale stays unpublished/unsynced. Does not pause.
	ErrInvalidContent = dErrors.New(dErrors.CodePreconditionFailed, "deposit service rejected the exported content")
)
