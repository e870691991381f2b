package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, the deposit gateway and
// other infrastructure layers return these (optionally wrapped) so services
// can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in the store or on the remote
// - ErrExpired: habilitation or lease has expired
// - ErrLocked: resource is held by another worker (sync lock)
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrLocked       = errors.New("locked")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
