package ai

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Classify marks a raw provider error with its taxonomy category. Errors that
// already carry a category are returned unchanged; caller cancellation is
// passed through unmarked.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.IsAny(err, errors.ErrTimeout, errors.ErrRateLimitedUpstream, errors.ErrInvalidRequest,
		errors.ErrTransientFailure, errors.ErrFatalFailure) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Mark(err, errors.ErrTimeout)
	}

	if s, ok := status.FromError(err); ok {
		if category := grpcCategory(s.Code()); category != nil {
			return errors.Mark(err, category)
		}
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return errors.Mark(err, httpCategory(gerr.Code))
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Mark(err, errors.ErrTimeout)
	}

	return errors.Mark(err, messageCategory(err.Error()))
}

func grpcCategory(code codes.Code) error {
	switch code {
	case codes.OK:
		return nil
	case codes.DeadlineExceeded:
		return errors.ErrTimeout
	case codes.ResourceExhausted:
		return errors.ErrRateLimitedUpstream
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return errors.ErrInvalidRequest
	case codes.PermissionDenied, codes.Unauthenticated, codes.NotFound, codes.Unimplemented:
		return errors.ErrFatalFailure
	default:
		return errors.ErrTransientFailure
	}
}

func httpCategory(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return errors.ErrRateLimitedUpstream
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return errors.ErrTimeout
	case code == http.StatusBadRequest || code == http.StatusRequestEntityTooLarge || code == http.StatusUnprocessableEntity:
		return errors.ErrInvalidRequest
	case code >= 500:
		return errors.ErrTransientFailure
	case code >= 400:
		return errors.ErrFatalFailure
	default:
		return errors.ErrTransientFailure
	}
}

// messageCategory is the fallback for SDKs that only surface text.
func messageCategory(msg string) error {
	msg = strings.ToLower(msg)
	switch {
	case containsAny(msg, "429", "rate limit", "too many requests", "quota", "resource exhausted"):
		return errors.ErrRateLimitedUpstream
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return errors.ErrTimeout
	case containsAny(msg, "context length", "maximum context", "too many tokens", "invalid request", "400"):
		return errors.ErrInvalidRequest
	case containsAny(msg, "401", "403", "unauthorized", "forbidden", "api key", "permission denied", "blocked"):
		return errors.ErrFatalFailure
	default:
		return errors.ErrTransientFailure
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
