// Package deposit talks to the remote authoritative deposit service that
// tracks official published revisions per commune.
//
// The service is a black box reached over HTTP. Everything it owns
// (habilitations, revisions) is read-only here; this package only causes new
// revisions to be created. The Client interface exists so the sync engine can
// be tested against a deterministic fake.
package deposit

import (
	"context"

	id "balregistry/pkg/domain"
)

// Client is the gateway to the deposit service.
//
// All calls may block on network I/O and honor context cancellation. A
// habilitation that the remote does not know about surfaces as
// sentinel.ErrNotFound; any other non-2xx response surfaces as a *APIError.
type Client interface {
	// GetHabilitation fetches the current state of a grant.
	GetHabilitation(ctx context.Context, habID id.HabilitationID) (*Habilitation, error)

	// CreateHabilitation asks the deposit service to open a new grant for the
	// commune. The grant starts pending until validated via PIN or franceconnect.
	CreateHabilitation(ctx context.Context, commune id.CommuneCode) (*Habilitation, error)

	// SendPinCode triggers delivery of the validation PIN to the commune's
	// registered mailbox.
	SendPinCode(ctx context.Context, habID id.HabilitationID) error

	// ValidatePinCode submits the PIN and returns the updated habilitation.
	ValidatePinCode(ctx context.Context, habID id.HabilitationID, code string) (*Habilitation, error)

	// PublishRevision creates a revision, uploads the exported content,
	// waits for the compute step and publishes, as one operation from the
	// caller's point of view. When the computed validation rejects the
	// content, the returned revision has Validation.Valid == false and is NOT
	// published.
	PublishRevision(ctx context.Context, commune id.CommuneCode, blID id.BaseLocaleID, content []byte, habID id.HabilitationID) (*Revision, error)

	// GetCurrentRevision returns the commune's current published revision, or
	// nil when the commune has none.
	GetCurrentRevision(ctx context.Context, commune id.CommuneCode) (*Revision, error)
}
