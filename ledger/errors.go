/*
errors.go - Error taxonomy of the engine

ERROR CATEGORIES:
  1. Denials - returned to the caller with a human-readable reason
     Validation, Unauthorized, Precondition, NotFound, Stale
  2. Store errors - persistence failures surfaced by Store implementations

USAGE:
  Every denial is a *DenialError. Match the category with errors.Is:

    if errors.Is(err, ledger.ErrPrecondition) {
        ...
    }

  The API layer maps categories to HTTP status codes and renders
  DenialError.Message as {"message": ...}.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized is returned when the actor may not perform the action.
	ErrUnauthorized = errors.New("not authorized")

	// ErrPrecondition is returned when the current state forbids the action
	// (market closed, insufficient funds, already voted, terminal status).
	ErrPrecondition = errors.New("precondition failed")

	// ErrNotFound is returned when a clan, planet or transaction is absent.
	ErrNotFound = errors.New("not found")

	// ErrStale is returned when the price moved since the transaction was created.
	ErrStale = errors.New("stale price")
)

// Store-level errors.
var (
	// ErrRecordNotFound is returned by Store getters for missing documents.
	ErrRecordNotFound = errors.New("record not found")

	// ErrConcurrentModification is returned when a Save finds a newer version.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrPendingExists is returned when a clan already has a pending stock transaction.
	ErrPendingExists = errors.New("pending stock transaction exists")
)

// =============================================================================
// DENIAL - Structured, user-facing error
// =============================================================================

// DenialError carries the reason shown to the player.
type DenialError struct {
	Kind    error
	Message string
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *DenialError) Unwrap() error {
	return e.Kind
}

func deny(kind error, format string, args ...any) *DenialError {
	return &DenialError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Message returns the user-facing text of a denial, or "" for other errors.
func Message(err error) string {
	var d *DenialError
	if errors.As(err, &d) {
		return d.Message
	}
	return ""
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request or game state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrPrecondition) ||
		errors.Is(err, ErrStale)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrRecordNotFound)
}
