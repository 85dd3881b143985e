package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a hive, colony, run, or task does not
	// exist.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate
	// entity.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrConflict is returned when an operation is illegal in the entity's
	// current state.
	ErrConflict = errors.New("operation conflicts with current state")

	// ErrShuttingDown rejects new work after Shutdown has begun.
	ErrShuttingDown = errors.New("scheduler is shutting down")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
