package deposit

import (
	"time"

	id "balregistry/pkg/domain"
)

// HabilitationStatus is the remote state of a publication grant.
type HabilitationStatus string

const (
	HabilitationPending  HabilitationStatus = "pending"
	HabilitationAccepted HabilitationStatus = "accepted"
	HabilitationRejected HabilitationStatus = "rejected"
)

// Habilitation is the read-only view of a grant owned by the deposit service.
// It allows one base locale to publish for one commune until it expires.
type Habilitation struct {
	ID            id.HabilitationID  `json:"id"`
	CommuneCode   id.CommuneCode     `json:"communeCode"`
	Status        HabilitationStatus `json:"status"`
	ExpiresAt     *time.Time         `json:"expiresAt,omitempty"`
	EmailsCommune []string           `json:"emailsCommune,omitempty"`
}

// IsAccepted reports whether the habilitation was validated.
func (h *Habilitation) IsAccepted() bool {
	return h.Status == HabilitationAccepted
}

// IsExpired reports whether the habilitation can no longer be used. A missing
// expiry means the habilitation never completed validation (the deposit
// service only sets one on acceptance), so it counts as expired.
func (h *Habilitation) IsExpired(now time.Time) bool {
	if h.ExpiresAt == nil {
		return true
	}
	return !h.ExpiresAt.After(now)
}

// RevisionStatus is the remote lifecycle state of a revision.
type RevisionStatus string

const (
	RevisionPending   RevisionStatus = "pending"
	RevisionPublished RevisionStatus = "published"
)

// FileTypeBal tags the address-data file of a revision. Its hash is the
// content-change signal for deduplication.
const FileTypeBal = "bal"

// RevisionFile describes one file attached to a revision.
type RevisionFile struct {
	Type string `json:"type"`
	Hash string `json:"hash"`
}

// Validation is the deposit service's verdict on uploaded content.
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Revision is the read-only view of an immutable published snapshot held by
// the deposit service.
type Revision struct {
	ID          id.RevisionID  `json:"id"`
	CommuneCode id.CommuneCode `json:"communeCode"`
	Status      RevisionStatus `json:"status"`
	Validation  Validation     `json:"validation"`
	Files       []RevisionFile `json:"files,omitempty"`
	PublishedAt *time.Time     `json:"publishedAt,omitempty"`
}

// FileHash returns the hash of the file with the given type tag, or "" when
// the revision carries no such file.
func (r *Revision) FileHash(fileType string) string {
	for _, f := range r.Files {
		if f.Type == fileType {
			return f.Hash
		}
	}
	return ""
}
