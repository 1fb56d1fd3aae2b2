package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates missing or invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPermission indicates the operation is not allowed for the subject.
	ErrPermission = errors.New("not permitted")
	// ErrConflict indicates the operation conflicts with the current state.
	ErrConflict = errors.New("conflict")
)

// PermissionError carries a user facing reason for a refused operation.
type PermissionError struct {
	Op     string
	Reason string
}

func (e *PermissionError) Error() string {
	if e.Reason == "" {
		return e.Op
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Unwrap lets errors.Is match ErrPermission.
func (e *PermissionError) Unwrap() error {
	return ErrPermission
}

// Validationf builds an ErrValidation wrapped error.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf builds an ErrConflict wrapped error.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
