// Package shared holds the JSON response helpers every handler uses, so
// error envelopes and status mapping stay uniform across the API.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "balregistry/pkg/domain-errors"
)

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes v with the given status. Encoding failures are swallowed:
// by then the status line is already on the wire.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError translates a domain error into its HTTP status and a stable
// machine-readable error code. Unknown errors become opaque 500s so internal
// detail never leaks to clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	envelope := errorEnvelope{Error: string(code)}

	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		envelope.Message = domainErr.Message
	}
	if code == dErrors.CodeInternal {
		envelope.Message = ""
	}

	WriteJSON(w, StatusOf(code), envelope)
}

// StatusOf maps a domain error code to its HTTP status.
func StatusOf(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case dErrors.CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
