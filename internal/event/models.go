// Package event captures publication lifecycle events.
//
// Events are written to a postgres outbox and shipped to Kafka by a worker,
// so downstream consumers (the national address build, dashboards) see every
// publication and conflict exactly once even when Kafka is down at emit time.
package event

import (
	"time"

	id "balregistry/pkg/domain"
)

// Event types.
const (
	TypePublished        = "baselocale.published"
	TypeConflictDetected = "baselocale.conflict_detected"
	TypeSyncCaughtUp     = "baselocale.sync_caught_up"
)

// Event is emitted from the sync engine to capture key lifecycle moments.
// Keep it transport-agnostic so stores and sinks can fan out.
type Event struct {
	Type        string          `json:"type"`
	BaseLocale  id.BaseLocaleID `json:"baseLocaleId"`
	CommuneCode id.CommuneCode  `json:"communeCode"`
	// RevisionID is the revision the base locale now points at.
	RevisionID id.RevisionID `json:"revisionId,omitempty"`
	// OverwrittenRevisionID is set on forced conflict resolutions: the remote
	// head that was replaced. Kept for auditability of split-brain decisions.
	OverwrittenRevisionID id.RevisionID `json:"overwrittenRevisionId,omitempty"`
	Timestamp             time.Time     `json:"timestamp"`
}
