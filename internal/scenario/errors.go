package scenario

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is matched by every validation failure of a frame.
var ErrInvalidInput = errors.New("invalid input")

// InputError describes which part of a frame was rejected.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

func invalid(field, format string, args ...any) error {
	return &InputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
