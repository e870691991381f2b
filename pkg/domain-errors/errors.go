// Package domainerrors provides coded errors for the service layer.
//
// Services return these so transports can map failures to status codes without
// string matching, and so callers can branch on the class of failure
// (dErrors.HasCode) rather than on concrete error values.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain failure.
type Code string

const (
	// CodeNotFound: the referenced entity does not exist.
	CodeNotFound Code = "not_found"
	// CodeInvalidInput: input failed domain validation (bad ID, bad enum value).
	CodeInvalidInput Code = "invalid_input"
	// CodeBadRequest: request is malformed at the transport boundary.
	CodeBadRequest Code = "bad_request"
	// CodeConflict: the operation conflicts with current state.
	CodeConflict Code = "conflict"
	// CodePreconditionFailed: a guard rejected the operation; retrying without
	// changing state will fail again.
	CodePreconditionFailed Code = "precondition_failed"
	// CodeInvariantViolation: an aggregate invariant would be broken.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeUnauthorized: caller is not allowed to perform the operation.
	CodeUnauthorized Code = "unauthorized"
	// CodeUnavailable: a dependency is temporarily unreachable.
	CodeUnavailable Code = "unavailable"
	// CodeInternal: unexpected failure, nothing actionable for the caller.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. It optionally wraps a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is lets errors.Is match two domain errors by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && (t.Message == "" || t.Message == e.Message)
}

// New creates a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause. The cause remains
// reachable through errors.Is/As chains.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Is is an alias of HasCode kept for call-site readability in handlers.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the code carried by err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
