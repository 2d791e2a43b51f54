package ai

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
)

// BackoffPolicy configures retries of a single model call.
type BackoffPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

// Backoff is the retry state of one logical call. It is not safe for
// concurrent use; each call owns its own.
type Backoff struct {
	policy  BackoffPolicy
	attempt int
	next    time.Duration
	jitter  func() float64 // returns [0,1)
}

// NewBackoff starts a retry sequence. jitter may be nil for the default
// random source.
func NewBackoff(policy BackoffPolicy, jitter func() float64) *Backoff {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 2
	}
	if jitter == nil {
		jitter = rand.Float64
	}
	return &Backoff{policy: policy, next: policy.Initial, jitter: jitter}
}

// Attempt returns the number of attempts recorded so far.
func (b *Backoff) Attempt() int { return b.attempt }

// Next records a failed attempt and decides whether to retry. It returns
// the delay before the next attempt, or false when err is not retryable or
// the attempts are exhausted. Delays grow exponentially up to Max; the
// jitter spreads each one over [delay/2, delay).
func (b *Backoff) Next(err error) (time.Duration, bool) {
	b.attempt++
	if !errors.Retryable(err) || b.attempt >= b.policy.MaxAttempts {
		return 0, false
	}

	base := b.next
	if hint, ok := errors.RetryAfter(err); ok && hint > base {
		base = hint
	}
	if b.policy.Max > 0 && base > b.policy.Max {
		base = b.policy.Max
	}

	grown := time.Duration(float64(b.next) * b.policy.Multiplier)
	if b.policy.Max > 0 && grown > b.policy.Max {
		grown = b.policy.Max
	}
	b.next = grown

	half := base / 2
	return half + time.Duration(b.jitter()*float64(base-half)), true
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
