package domain

import "errors"

// Domain-specific errors for command processing.
var (
	// Task errors
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskAlreadyExists = errors.New("task already exists")
	ErrInvalidTransition = errors.New("invalid state transition")

	// Permission errors
	ErrCapabilityDenied = errors.New("capability denied")

	// Event store errors
	ErrConcurrency             = errors.New("concurrency conflict")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already consumed")
	ErrIdempotencyKeyConflict  = errors.New("idempotency key belongs to another task")

	// Integrity errors. Never user-facing.
	ErrUnknownEvent = errors.New("unknown event type")

	// Validation errors
	ErrEmptyTaskID         = errors.New("task id is required")
	ErrEmptyIdempotencyKey = errors.New("idempotency key is required")
	ErrEmptyAction         = errors.New("requested action is required")
)
