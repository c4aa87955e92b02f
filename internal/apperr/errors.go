// Package apperr defines the error kinds shared across the auction server.
// Callers wrap one of the sentinels with fmt.Errorf("%w: ...") and higher
// layers match with errors.Is to decide how to react: the bid processor
// retries only on ErrConflict, the protocol router maps each kind to an
// ERROR frame, and nothing here ever closes a connection.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed command or an argument that fails a rule.
	ErrValidation = errors.New("validation error")

	// ErrAuth marks bad credentials, an unknown or expired session, or a
	// failed admin check.
	ErrAuth = errors.New("auth error")

	// ErrConflict marks a lost optimistic-concurrency race. It is the only
	// retryable kind.
	ErrConflict = errors.New("concurrency conflict")

	// ErrOversell is returned when a checkout would push inventory below zero.
	ErrOversell = errors.New("oversell attempt")

	// ErrPersistence wraps a failure reported by the durable store.
	ErrPersistence = errors.New("persistence failure")

	// ErrNotFound marks a missing item, order or cart row.
	ErrNotFound = errors.New("not found")
)

// Validation returns an ErrValidation carrying msg.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Auth returns an ErrAuth carrying msg.
func Auth(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuth, fmt.Sprintf(format, args...))
}

// Persistence wraps err as an ErrPersistence for operation op. A nil err
// stays nil so it can wrap call results directly.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
