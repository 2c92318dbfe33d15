package services

import (
	"errors"
	"fmt"
)

// Error taxonomy for the session lifecycle. Handlers map these onto HTTP
// statuses; everything else is treated as an internal error.
var (
	// ErrUnauthorized means no identity was presented where one is required.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means a private entity was accessed with a wrong or
	// missing invite token. Never reported as NotFound.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound means the entity or session is absent or outside the
	// caller's scope.
	ErrNotFound = errors.New("not found")

	// ErrAgentUnavailable means the entity carries no voice-agent
	// configuration. Fatal, never retried.
	ErrAgentUnavailable = errors.New("no voice agent configured")

	// ErrExhaustedRetries means the review retriever gave up after its
	// retry ceiling.
	ErrExhaustedRetries = errors.New("review retries exhausted")

	// ErrInvalidTransition means a session status update would regress the
	// monotonic created -> in_progress -> completed|cancelled chain.
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// TransientError marks a failure as retryable (network or scoring-service
// failure, review not ready yet).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transientf wraps a formatted error as retryable.
func Transientf(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
