// Package domain holds domain primitives shared across modules: typed
// identifiers and the commune code. Typed IDs make cross-entity mixups a
// compile error instead of a runtime surprise.
package domain

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	dErrors "balregistry/pkg/domain-errors"
)

// BaseLocaleID identifies a base locale (one municipality's address registry).
type BaseLocaleID uuid.UUID

// HabilitationID identifies a publication grant issued by the deposit service.
// It is an opaque remote identifier, not a UUID.
type HabilitationID string

// RevisionID identifies a published revision held by the deposit service.
type RevisionID string

// CommuneCode is an INSEE commune code: five characters, digits with an
// optional leading "2A"/"2B" for Corsica.
type CommuneCode string

var communeCodeRe = regexp.MustCompile(`^(\d{5}|2[AB]\d{3})$`)

func (id BaseLocaleID) String() string { return uuid.UUID(id).String() }

func (id BaseLocaleID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText makes the ID serialize as its canonical UUID string in JSON
// and text contexts.
func (id BaseLocaleID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the canonical UUID string form.
func (id *BaseLocaleID) UnmarshalText(b []byte) error {
	parsed, err := ParseBaseLocaleID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id HabilitationID) String() string { return string(id) }

func (id RevisionID) String() string { return string(id) }

func (c CommuneCode) String() string { return string(c) }

// NewBaseLocaleID returns a fresh random base locale ID.
func NewBaseLocaleID() BaseLocaleID {
	return BaseLocaleID(uuid.New())
}

// ParseBaseLocaleID validates s as a non-nil UUID.
func ParseBaseLocaleID(s string) (BaseLocaleID, error) {
	if s == "" {
		return BaseLocaleID{}, dErrors.New(dErrors.CodeInvalidInput, "base locale id cannot be empty")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return BaseLocaleID{}, dErrors.New(dErrors.CodeInvalidInput, "base locale id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return BaseLocaleID{}, dErrors.New(dErrors.CodeInvalidInput, "base locale id cannot be the nil UUID")
	}
	return BaseLocaleID(parsed), nil
}

// ParseCommuneCode validates s as an INSEE commune code.
func ParseCommuneCode(s string) (CommuneCode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !communeCodeRe.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "commune code must be a 5-character INSEE code")
	}
	return CommuneCode(s), nil
}
