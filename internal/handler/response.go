package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// ENVELOPE:
// Every response body is a JSON object. Successful mutations carry
// "success": true next to their payload; every error has the same shape:
//
//	{"success": false, "error": "not_found", "message": "video not found with id abc123"}
//
// "error" is machine-readable and stable, "message" is for humans. The
// browser front-end only ever has to look at those two fields.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/vidshare/internal/apperror"
)

// maxJSONBody caps JSON request bodies. Uploads have their own limit.
const maxJSONBody = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
	Field   string `json:"field,omitempty"`
}

// MessageResponse is the body of mutations that only need to say "done".
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status go out before the body. Once Encode starts writing,
// any header change is silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status code and sends it.
//
// ERROR MAPPING:
//
//	ErrValidation         → 400 validation_error
//	ErrConflict           → 400 conflict
//	ErrInvalidCredentials → 401 invalid_credentials
//	ErrUnauthenticated    → 401 unauthenticated
//	ErrForbidden          → 403 forbidden
//	ErrNotFound           → 404 not_found
//	ErrInvalidToken       → 404 invalid_token
//	ErrTooManyRequests    → 429 too_many_requests
//	ErrStorage            → 500 storage_error
//	anything else         → 500 internal_error
//
// The two 500 cases never echo the error text: it may contain SQL, file
// paths or bucket names. The full error goes to the log instead.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "payload_too_large",
			Message: fmt.Sprintf("request body must be %d bytes or less", maxBytes.Limit),
		})
		return
	}

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logger.Error("unhandled error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	errorType := "internal_error"
	message := appErr.Message

	// Match the outermost AppError's own sentinel. Its Cause may be another
	// AppError (a Conflict inside a Storage failure) and must not decide
	// the status.
	switch appErr.Err {
	case apperror.ErrValidation:
		status, errorType = http.StatusBadRequest, "validation_error"
	case apperror.ErrConflict:
		status, errorType = http.StatusBadRequest, "conflict"
	case apperror.ErrInvalidCredentials:
		status, errorType = http.StatusUnauthorized, "invalid_credentials"
	case apperror.ErrUnauthenticated:
		status, errorType = http.StatusUnauthorized, "unauthenticated"
	case apperror.ErrForbidden:
		status, errorType = http.StatusForbidden, "forbidden"
	case apperror.ErrNotFound:
		status, errorType = http.StatusNotFound, "not_found"
	case apperror.ErrInvalidToken:
		status, errorType = http.StatusNotFound, "invalid_token"
	case apperror.ErrTooManyRequests:
		status, errorType = http.StatusTooManyRequests, "too_many_requests"
	case apperror.ErrStorage:
		errorType = "storage_error"
		message = "A storage error occurred, please try again later"
		logger.Error("storage failure", slog.String("error", err.Error()))
	default:
		message = "An internal error occurred"
		logger.Error("unmapped application error", slog.String("error", err.Error()))
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: message,
		Field:   appErr.Field,
	})
}

// Unauthorized adapts writeError to auth.UnauthorizedFunc so RequireAuth
// answers with the same envelope as every handler.
func Unauthorized(logger *slog.Logger) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, _ *http.Request, err error) {
		writeError(w, logger, err)
	}
}

// decodeJSON reads a JSON body into dst. Malformed input becomes a
// validation error so the caller can pass it straight to writeError.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return apperror.ValidationFailed("body", "request body must be valid JSON")
	}
	return nil
}
