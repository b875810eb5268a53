package dto

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mtlprog/tasklog/internal/domain"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorResponse creates a new error response.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// MapDomainError maps domain errors to HTTP status codes and error codes.
func MapDomainError(err error) (status int, code string, message string) {
	message = err.Error()

	switch {
	// Task errors
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, "TASK_NOT_FOUND", message
	case errors.Is(err, domain.ErrTaskAlreadyExists):
		return http.StatusConflict, "TASK_ALREADY_EXISTS", message
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", message

	// Permission errors
	case errors.Is(err, domain.ErrCapabilityDenied):
		return http.StatusForbidden, "CAPABILITY_DENIED", message

	// Event store errors
	case errors.Is(err, domain.ErrConcurrency):
		return http.StatusConflict, "CONCURRENCY_CONFLICT", message
	case errors.Is(err, domain.ErrIdempotencyKeyConflict):
		return http.StatusConflict, "IDEMPOTENCY_KEY_CONFLICT", message

	// Validation errors
	case errors.Is(err, domain.ErrEmptyTaskID):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", message
	case errors.Is(err, domain.ErrEmptyIdempotencyKey):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", message
	case errors.Is(err, domain.ErrEmptyAction):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", message

	// Integrity errors are never shown to clients
	case errors.Is(err, domain.ErrUnknownEvent):
		slog.Error("event stream integrity violation", "error", err)
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"

	// Default: internal server error
	default:
		slog.Error("unmapped domain error returned to client",
			"error", err,
			"error_type", fmt.Sprintf("%T", err),
		)
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
	}
}
