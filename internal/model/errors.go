package model

import "fmt"

// ValidationError reports a malformed record or request. Field names the
// offending attribute using its persisted name.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// Permanent marks validation failures as never retryable.
func (e *ValidationError) Permanent() bool { return true }
