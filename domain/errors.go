package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an unknown task id within the caller's scope.
	ErrNotFound = errors.New("task not found")
	// ErrConflict indicates a lost optimistic-concurrency race; the caller
	// should re-fetch rather than retry blindly.
	ErrConflict = errors.New("concurrent modification")
	// ErrUnavailable wraps durable-store failures. It is the only error class
	// callers may retry with backoff.
	ErrUnavailable = errors.New("storage unavailable")
)

// ValidationError reports malformed or inconsistent input with enough detail
// for the caller to correct it.
type ValidationError struct {
	Field  string
	Reason string
	Value  string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s: %s (%q)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PatternError reports a malformed recurrence rule.
type PatternError struct {
	Field  string
	Reason string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid recurrence pattern: %s %s", e.Field, e.Reason)
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
