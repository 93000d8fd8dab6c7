// Package errors provides common domain error types for the reconciliation engine.
//
// This package defines sentinel errors for conditions like "not found" or
// "conflict" that are shared by the store implementations, the entity resolver
// and the import runner. Using typed errors enables consistent handling with
// errors.Is() checks.
//
// Usage:
//
//	import recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
//
//	// Return a domain error
//	return 0, fmt.Errorf("insert bank %q: %w", name, recerrors.ErrConflict)
//
//	// Check for domain errors
//	if recerrors.IsConflict(err) {
//	    // retry the lookup
//	}
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested record was not found.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness violation (duplicate natural key or name).
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrInvalidState indicates the operation is not valid for the current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrHeaderNotFound indicates no header row matched a dataset's signatures.
	ErrHeaderNotFound = errors.New("header not found")

	// ErrOwnerMissing indicates a fact was offered without a resolved owning entity.
	ErrOwnerMissing = errors.New("owning entity missing")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsHeaderNotFound reports whether any error in err's chain is ErrHeaderNotFound.
func IsHeaderNotFound(err error) bool {
	return errors.Is(err, ErrHeaderNotFound)
}

// IsOwnerMissing reports whether any error in err's chain is ErrOwnerMissing.
func IsOwnerMissing(err error) bool {
	return errors.Is(err, ErrOwnerMissing)
}
