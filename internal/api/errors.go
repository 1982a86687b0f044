package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/unitkey/unitkey-core/internal/device"
	"github.com/unitkey/unitkey-core/internal/directory"
	"github.com/unitkey/unitkey-core/internal/ledger"
	"github.com/unitkey/unitkey-core/internal/routepass"
	"github.com/unitkey/unitkey-core/internal/sharing"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeValidation   = "validation_error"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeDependency   = "dependency_error"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeValidationError writes a 400 error response for invalid field values.
func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps domain sentinel errors onto the HTTP taxonomy:
// validation 400, forbidden 403, not found 404, dependency 502. Anything
// unmapped is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrInvalidPublicKey),
		errors.Is(err, device.ErrInvalidPlatform),
		errors.Is(err, sharing.ErrInvalidAccessLevel),
		errors.Is(err, sharing.ErrSelfShare):
		writeValidationError(w, err.Error())
	case errors.Is(err, sharing.ErrAccessDenied):
		writeForbidden(w, err.Error())
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, sharing.ErrGrantNotFound),
		errors.Is(err, directory.ErrUnitNotFound),
		errors.Is(err, directory.ErrUserNotFound),
		errors.Is(err, ledger.ErrNoIssuance),
		errors.Is(err, routepass.ErrDeviceNotRegistered),
		errors.Is(err, routepass.ErrUnknownDevice):
		writeNotFound(w, err.Error())
	default:
		writeInternalError(w, "internal server error")
	}
}
