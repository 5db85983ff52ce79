package dto

import (
	"errors"
	"net/http"

	"github.com/jmorazan/reconcile-backend/internal/domain/reconcile"
)

// APIError represents a structured error response.
// All error responses from the API use this format for consistency.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeInvalidArgument    = "invalid_argument"
	ErrCodeNotFound           = "not_found"
	ErrCodePreconditionFailed = "precondition_failed"
	ErrCodeConflict           = "conflict"
	ErrCodeInternalError      = "internal_error"
)

// NewAPIError creates a new APIError with the given code and message.
func NewAPIError(code, message string) APIError {
	return APIError{
		Code:    code,
		Message: message,
	}
}

// FromError maps a domain error to its HTTP status and response body.
// Unrecognized errors become opaque 500s; the original message stays in
// the server log, not the response.
func FromError(err error) (int, APIError) {
	switch {
	case errors.Is(err, reconcile.ErrInvalidArgument):
		return http.StatusBadRequest, NewAPIError(ErrCodeInvalidArgument, err.Error())
	case errors.Is(err, reconcile.ErrNotFound):
		return http.StatusNotFound, NewAPIError(ErrCodeNotFound, err.Error())
	case errors.Is(err, reconcile.ErrPreconditionFailed):
		return http.StatusConflict, NewAPIError(ErrCodePreconditionFailed, err.Error())
	case errors.Is(err, reconcile.ErrConflict):
		return http.StatusServiceUnavailable, NewAPIError(ErrCodeConflict, err.Error())
	default:
		return http.StatusInternalServerError, NewAPIError(ErrCodeInternalError, "an internal error occurred")
	}
}
