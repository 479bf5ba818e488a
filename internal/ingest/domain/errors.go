package domain

import "fmt"

// FieldError is a row-scoped normalization or validation failure.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func Required(field string) *FieldError {
	return &FieldError{Field: field, Reason: "is required"}
}

func Invalid(field string, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
