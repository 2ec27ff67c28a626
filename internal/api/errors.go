package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/fleetwatch-core/internal/device"
)

// Error is the JSON body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeConflict        = "conflict"
	ErrCodeInternal        = "internal_error"
	ErrCodeValidation      = "validation_error"
	ErrCodePayloadTooLarge = "payload_too_large"
	ErrCodeUnavailable     = "unavailable"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // the client may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDeviceError maps device package errors onto HTTP responses.
func writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device already exists")
	case errors.Is(err, device.ErrFragmentTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, err.Error())
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		writeInternalError(w, "internal server error")
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, device.ErrInvalidDevice) ||
		errors.Is(err, device.ErrInvalidID) ||
		errors.Is(err, device.ErrInvalidName) ||
		errors.Is(err, device.ErrInvalidKind) ||
		errors.Is(err, device.ErrInvalidIP)
}

// decodeJSON reads the request body into v, writing the error response and
// returning false when the body is missing, malformed or too large.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
			return false
		}
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}
