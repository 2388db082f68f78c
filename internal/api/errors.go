package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcus/rally/internal/db"
	rsync "github.com/marcus/rally/internal/sync"
)

// Error code constants for structured API error responses.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeInternal     = "internal"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInvalidRow   = "invalid_row"
)

// APIError represents a structured error returned by the API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError for JSON serialization.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// writeError writes a JSON error response with the given HTTP status code.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error: APIError{Code: code, Message: message},
	}); err != nil {
		slog.Error("write error response", "err", err)
	}
}

// writeJSON writes a JSON response with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "err", err)
	}
}

// writeStoreError maps row store failures onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *db.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeInvalidRow, verr.Error())
	case errors.Is(err, rsync.ErrForbidden):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, rsync.ErrUnknownTable), errors.Is(err, db.ErrUnknownCollection):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		logFor(r.Context()).Error("row store", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
