// Package apierror writes the {code, message, field_path?} error envelope
// used at every HTTP boundary: one status helper per response class
// (WriteBadRequest, WriteNotFound, WriteInternal, ...), all serializing
// the coded-error body contracts.CodedError defines.
package apierror

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/meridianlabs/licl/pkg/contracts"
)

// Write serializes a single coded error at the given HTTP status.
func Write(w http.ResponseWriter, status int, ce contracts.CodedError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ce)
}

// WriteBadRequest writes a 400 response for the first of a set of coded
// validation errors.
func WriteBadRequest(w http.ResponseWriter, ce contracts.CodedError) {
	Write(w, http.StatusBadRequest, ce)
}

// WriteNotFound writes a 404 response.
func WriteNotFound(w http.ResponseWriter, ce contracts.CodedError) {
	Write(w, http.StatusNotFound, ce)
}

// WriteConflict writes a 409 response.
func WriteConflict(w http.ResponseWriter, ce contracts.CodedError) {
	Write(w, http.StatusConflict, ce)
}

// WriteMethodNotAllowed writes a 405 response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	Write(w, http.StatusMethodNotAllowed, contracts.CodedError{
		Code: "method_not_allowed", Message: "the HTTP method is not supported for this endpoint",
	})
}

// WriteTooManyRequests writes a 429 response with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	Write(w, http.StatusTooManyRequests, contracts.CodedError{
		Code: "rate_limit_exceeded", Message: "rate limit exceeded, retry after the specified interval",
	})
}

// WriteUnauthorized writes a 401 response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "authentication required"
	}
	Write(w, http.StatusUnauthorized, contracts.CodedError{Code: "unauthorized", Message: detail})
}

// WriteInternal writes a 500 response. err is logged but never exposed.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("httpapi: internal server error", "error", err)
	Write(w, http.StatusInternalServerError, contracts.CodedError{
		Code: "internal_error", Message: "an unexpected error occurred",
	})
}

