// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinels across repo/service layers.
var (
	// ErrInvalidInput indicates malformed or missing request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthenticated indicates a missing, expired or revoked credential.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden indicates a valid identity with insufficient role or ownership.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a duplicate identifier or a rejected risky overwrite.
	ErrConflict = errors.New("conflict")

	// ErrLocked indicates a timed login lockout.
	ErrLocked = errors.New("account locked")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUpstream indicates a dependent external service failed.
	ErrUpstream = errors.New("upstream failure")
)

// LockedError wraps ErrLocked with the remaining lock duration.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %ds", e.RetryAfterSeconds())
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// RetryAfterSeconds reports the remaining lock window in whole seconds, never below 1.
func (e *LockedError) RetryAfterSeconds() int {
	s := int(e.RetryAfter.Round(time.Second) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// OverwriteConflictError wraps ErrConflict with the counts a caller needs to
// render a confirmation prompt.
type OverwriteConflictError struct {
	ExistingChapters int
	IncomingChapters int
	ExistingWords    int
	IncomingWords    int
}

func (e *OverwriteConflictError) Error() string {
	return fmt.Sprintf("risky overwrite: %d chapters/%d words -> %d chapters/%d words",
		e.ExistingChapters, e.ExistingWords, e.IncomingChapters, e.IncomingWords)
}

func (e *OverwriteConflictError) Unwrap() error { return ErrConflict }
