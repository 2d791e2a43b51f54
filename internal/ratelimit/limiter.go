// Package ratelimit gates outbound AI calls with a token bucket.
package ratelimit

import (
	"context"
	"time"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"golang.org/x/time/rate"
)

// Config of a token bucket: Requests tokens refill continuously over Window.
// MaxWait bounds how long Acquire may block; zero means fail fast.
type Config struct {
	Requests int
	Window   time.Duration
	MaxWait  time.Duration
}

// Limiter is a token bucket shared by all analysis requests.
// Safe for concurrent use.
type Limiter struct {
	bucket  *rate.Limiter
	maxWait time.Duration
	timeNow func() time.Time // Injectable for testing
}

// NewLimiter creates a limiter with real time.
func NewLimiter(cfg Config) *Limiter {
	return NewLimiterWithClock(cfg, time.Now)
}

// NewLimiterWithClock creates a limiter with an injectable clock (for testing).
func NewLimiterWithClock(cfg Config, timeNow func() time.Time) *Limiter {
	perSecond := float64(cfg.Requests) / cfg.Window.Seconds()
	return &Limiter{
		bucket:  rate.NewLimiter(rate.Limit(perSecond), cfg.Requests),
		maxWait: cfg.MaxWait,
		timeNow: timeNow,
	}
}

// Acquire takes one token. When no token is available within MaxWait it
// returns a *errors.RateLimitedError carrying the remaining wait, and the
// bucket is left as it was.
func (l *Limiter) Acquire(ctx context.Context) error {
	now := l.timeNow()
	r := l.bucket.ReserveN(now, 1)
	if !r.OK() {
		return errors.WithHint(&errors.RateLimitedError{RetryAfter: l.maxWait},
			"the rate limiter has zero capacity; check RATE_LIMIT_REQUESTS")
	}

	delay := r.DelayFrom(now)
	if delay == 0 {
		return nil
	}
	if delay > l.maxWait {
		r.CancelAt(now)
		return &errors.RateLimitedError{RetryAfter: delay}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.CancelAt(l.timeNow())
		return ctx.Err()
	}
}

// Available returns the number of tokens currently in the bucket.
func (l *Limiter) Available() float64 {
	return l.bucket.TokensAt(l.timeNow())
}
