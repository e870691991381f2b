package models

import (
	"time"

	id "balregistry/pkg/domain"
	dErrors "balregistry/pkg/domain-errors"
	"balregistry/pkg/email"
)

// BaseLocaleStatus is the publication lifecycle state of a base locale.
type BaseLocaleStatus string

const (
	StatusDraft     BaseLocaleStatus = "draft"
	StatusPublished BaseLocaleStatus = "published"
	StatusDemo      BaseLocaleStatus = "demo"
	StatusReplaced  BaseLocaleStatus = "replaced"
)

// SyncStatus is the engine's belief about local/remote agreement.
type SyncStatus string

const (
	// SyncStatusNone is the zero state of a base locale that has never been
	// published. It never coexists with StatusPublished.
	SyncStatusNone     SyncStatus = ""
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusOutdated SyncStatus = "outdated"
	SyncStatusConflict SyncStatus = "conflict"
)

// CanTransitionTo reports whether the sync status may move to target.
//
// synced <-> outdated, either may degrade to conflict, and conflict only
// resolves to synced (a forced re-publication or pointer catch-up).
func (s SyncStatus) CanTransitionTo(target SyncStatus) bool {
	switch s {
	case SyncStatusNone:
		return target == SyncStatusSynced
	case SyncStatusSynced:
		return target == SyncStatusOutdated || target == SyncStatusConflict || target == SyncStatusSynced
	case SyncStatusOutdated:
		return target == SyncStatusSynced || target == SyncStatusConflict || target == SyncStatusOutdated
	case SyncStatusConflict:
		return target == SyncStatusSynced || target == SyncStatusConflict
	}
	return false
}

// Sync is the synchronization sub-record embedded in a base locale. It is
// created together with the base locale and mutated only by the sync engine
// and the pause/resume operations.
type Sync struct {
	Status SyncStatus `json:"status"`
	// IsPaused freezes the base locale out of automatic reconciliation. It is
	// set by operators and by guard failures that need operator attention;
	// reconciliation never clears it on its own except when marking synced.
	IsPaused bool `json:"isPaused"`
	// CurrentUpdated is the base locale UpdatedAt as of the last successful
	// reconciliation. UpdatedAt != CurrentUpdated means unpushed local edits.
	CurrentUpdated time.Time `json:"currentUpdated"`
	// LastUploadedRevisionID is the last remote revision this base locale
	// produced. Divergence from the remote head means another actor published.
	LastUploadedRevisionID id.RevisionID `json:"lastUploadedRevisionId"`
}

// BaseLocale is the aggregate root for one municipality's address registry.
//
// Invariants:
//   - Name is non-empty and at most 200 characters
//   - CommuneCode is a valid INSEE code
//   - Status draft -> published happens exactly once, on first successful
//     publication; published -> replaced is driven by flows outside this core
//   - Sync.Status is SyncStatusNone iff Status has never been published
//   - A demo base locale is never eligible for synchronization
type BaseLocale struct {
	ID             id.BaseLocaleID   `json:"id"`
	Name           string            `json:"name"`
	CommuneCode    id.CommuneCode    `json:"communeCode"`
	Emails         []string          `json:"emails"`
	Status         BaseLocaleStatus  `json:"status"`
	HabilitationID id.HabilitationID `json:"habilitationId,omitempty"`
	// TokenHash is the bcrypt hash of the base locale's admin token. The
	// plaintext is returned once at creation and never stored; it authorizes
	// per-base-locale operations without an operator account.
	TokenHash string `json:"-"`
	Sync           Sync              `json:"sync"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	DeletedAt      *time.Time        `json:"deletedAt,omitempty"`
}

// NewBaseLocale constructs a draft base locale with a fresh, unpaused sync
// record.
func NewBaseLocale(blID id.BaseLocaleID, name string, commune id.CommuneCode, emails []string, now time.Time) (*BaseLocale, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "base locale name cannot be empty")
	}
	if len(name) > 200 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "base locale name must be 200 characters or less")
	}
	return &BaseLocale{
		ID:          blID,
		Name:        name,
		CommuneCode: commune,
		Emails:      email.Dedupe(emails),
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (b *BaseLocale) IsDeleted() bool {
	return b.DeletedAt != nil
}

// HasHabilitation reports whether a habilitation has ever been attached.
func (b *BaseLocale) HasHabilitation() bool {
	return b.HabilitationID != ""
}

// CanSync checks structural eligibility for synchronization. Demo and deleted
// base locales are never syncable; pausing is checked separately because a
// forced reconcile may run on a paused base locale.
func (b *BaseLocale) CanSync() error {
	if b.Status == StatusDemo {
		return dErrors.New(dErrors.CodeInvariantViolation, "demo base locale cannot be synchronized")
	}
	if b.IsDeleted() {
		return dErrors.New(dErrors.CodeInvariantViolation, "deleted base locale cannot be synchronized")
	}
	return nil
}

// CanPublish checks the draft -> published transition.
func (b *BaseLocale) CanPublish() error {
	if b.Status != StatusDraft {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot publish base locale in status %q", b.Status)
	}
	return nil
}

// ApplyPublication records the first successful publication. Call CanPublish
// first.
func (b *BaseLocale) ApplyPublication(revisionID id.RevisionID, now time.Time) {
	b.Status = StatusPublished
	b.applySynced(revisionID, now)
}

// CanMarkSynced checks that the base locale is published so the sync pointer
// may be advanced.
func (b *BaseLocale) CanMarkSynced() error {
	if b.Status != StatusPublished {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot mark base locale synced in status %q", b.Status)
	}
	return nil
}

// ApplyMarkSynced aligns local and remote views: sync becomes synced and
// unpaused against revisionID, and both clocks move to now so the next
// recomputation sees no drift. Call CanMarkSynced first.
func (b *BaseLocale) ApplyMarkSynced(revisionID id.RevisionID, now time.Time) {
	b.applySynced(revisionID, now)
}

func (b *BaseLocale) applySynced(revisionID id.RevisionID, now time.Time) {
	b.Sync.Status = SyncStatusSynced
	b.Sync.IsPaused = false
	b.Sync.CurrentUpdated = now
	b.Sync.LastUploadedRevisionID = revisionID
	b.UpdatedAt = now
}

// ApplyConflict records remote divergence: another actor published a revision
// this base locale does not know about. Conflicts always pause.
func (b *BaseLocale) ApplyConflict() {
	b.Sync.Status = SyncStatusConflict
	b.Sync.IsPaused = true
}

// ApplyOutdated records unpushed local edits.
func (b *BaseLocale) ApplyOutdated() {
	b.Sync.Status = SyncStatusOutdated
}

// ApplyPause freezes automatic reconciliation. Idempotent.
func (b *BaseLocale) ApplyPause() {
	b.Sync.IsPaused = true
}

// ApplyResume re-enables automatic reconciliation. Idempotent.
func (b *BaseLocale) ApplyResume() {
	b.Sync.IsPaused = false
}

// Touch records a local content edit, which makes the base locale drift from
// its last reconciled state.
func (b *BaseLocale) Touch(now time.Time) {
	b.UpdatedAt = now
}
