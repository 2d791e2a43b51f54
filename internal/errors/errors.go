// Package errors provides error handling for the document analysis flow.
//
// It re-exports github.com/cockroachdb/errors and defines the sentinel
// categories every component classifies its failures into. Classification
// uses Mark, so the original message and stack survive while errors.Is
// matches the category:
//
//	return errors.Mark(errors.Wrap(err, "vertex generate"), errors.ErrTransientFailure)
//
// Callers branch on the category, never on message text.
package errors

import (
	"fmt"
	"time"

	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
	Join         = crdb.Join
)

// User-facing messages and details
var (
	WithHint     = crdb.WithHint
	WithHintf    = crdb.WithHintf
	WithDetail   = crdb.WithDetail
	WithDetailf  = crdb.WithDetailf
	FlattenHints = crdb.FlattenHints
	GetAllHints  = crdb.GetAllHints
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Failure categories.
var (
	ErrNotFound          = crdb.New("not found")
	ErrInvalidRequest    = crdb.New("invalid request")
	ErrExtractionFailure = crdb.New("extraction failure")
	ErrDocumentNotReady  = crdb.New("document not ready")
	ErrRunActive         = crdb.New("pipeline run already active")
	ErrRateLimited       = crdb.New("rate limited")

	// AI adapter taxonomy.
	ErrTimeout             = crdb.New("ai call timed out")
	ErrRateLimitedUpstream = crdb.New("ai provider rate limited")
	ErrTransientFailure    = crdb.New("ai transient failure")
	ErrFatalFailure        = crdb.New("ai fatal failure")
)

// RateLimitedError is returned when the local token bucket has no token
// available within the caller's wait budget.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter.Round(time.Millisecond))
}

// Unwrap lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfter extracts the wait hint from a rate limit error, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if crdb.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// Retryable reports whether an AI failure category warrants another attempt.
func Retryable(err error) bool {
	return crdb.IsAny(err, ErrTimeout, ErrTransientFailure, ErrRateLimitedUpstream)
}

// Category returns the short name of the failure category, or "internal".
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case crdb.Is(err, ErrNotFound):
		return "not_found"
	case crdb.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case crdb.Is(err, ErrExtractionFailure):
		return "extraction_failure"
	case crdb.Is(err, ErrDocumentNotReady):
		return "document_not_ready"
	case crdb.Is(err, ErrRunActive):
		return "run_active"
	case crdb.Is(err, ErrRateLimited):
		return "rate_limited"
	case crdb.Is(err, ErrTimeout):
		return "timeout"
	case crdb.Is(err, ErrRateLimitedUpstream):
		return "rate_limited_upstream"
	case crdb.Is(err, ErrTransientFailure):
		return "transient_failure"
	case crdb.Is(err, ErrFatalFailure):
		return "fatal_failure"
	default:
		return "internal"
	}
}
