package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a classified reconciliation error.
type ErrorCode string

const (
	ErrParseError          ErrorCode = "parse_error"
	ErrResolutionMiss      ErrorCode = "resolution_miss"
	ErrRegionNotFound      ErrorCode = "region_not_found"
	ErrPersistenceConflict ErrorCode = "persistence_conflict"
	ErrContextCancelled    ErrorCode = "context_cancelled"
	ErrFatal               ErrorCode = "fatal"
)

// ReconError is a structured error for failures inside an import run.
type ReconError struct {
	Code    ErrorCode
	Stage   string
	Message string
	Cause   error
}

func (e *ReconError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ReconError) Unwrap() error {
	return e.Cause
}

// Classify inspects an error and returns a *ReconError with the appropriate code.
// Errors that match no known condition are classified as ErrFatal.
func Classify(err error, stage string) *ReconError {
	if err == nil {
		return nil
	}

	var re *ReconError
	if errors.As(err, &re) {
		return re
	}

	ce := &ReconError{
		Stage:   stage,
		Message: err.Error(),
		Cause:   err,
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		ce.Code = ErrContextCancelled
	case errors.Is(err, ErrHeaderNotFound):
		ce.Code = ErrRegionNotFound
	case errors.Is(err, ErrConflict):
		ce.Code = ErrPersistenceConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrOwnerMissing):
		ce.Code = ErrResolutionMiss
	case strings.Contains(strings.ToLower(err.Error()), "parse"):
		ce.Code = ErrParseError
	default:
		ce.Code = ErrFatal
	}
	return ce
}

// NewParseError builds a parse error for a single field or row.
func NewParseError(stage, msg string) *ReconError {
	return &ReconError{Code: ErrParseError, Stage: stage, Message: msg}
}

// IsFatal returns true if the error aborts an import run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	ce := Classify(err, "")
	return !IsRecoverable(ce.Code)
}
