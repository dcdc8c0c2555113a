package apperr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds shared across the service. Callers classify with
// errors.Is / IsKind; packages add operation context with Wrap.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrEmbedding    = errors.New("embedding failed")
	ErrGeneration   = errors.New("generation failed")
	ErrConfig       = errors.New("invalid configuration")
	ErrTransient    = errors.New("transient failure")
)

// Wrap attaches a semantic kind and operation context to err.
func Wrap(kind error, operation string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", operation, kind)
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

// New builds a kinded error from a message with no underlying cause.
func New(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

func IsKind(err, kind error) bool {
	return errors.Is(err, kind)
}

// IsTransient reports whether err may be retried (network hiccups, timeouts).
// Format and dimensionality errors are never transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
