package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClock provides controllable time for testing
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLimiter_EleventhCallIsRateLimited(t *testing.T) {
	clock := newMockClock()
	limiter := NewLimiterWithClock(Config{Requests: 10, Window: 60 * time.Second}, clock.Now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, limiter.Acquire(ctx), "call %d should pass", i+1)
	}

	err := limiter.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRateLimited))

	wait, ok := errors.RetryAfter(err)
	require.True(t, ok)
	assert.InDelta(t, 6*time.Second, wait, float64(10*time.Millisecond))
}

func TestLimiter_RejectionDoesNotConsume(t *testing.T) {
	clock := newMockClock()
	limiter := NewLimiterWithClock(Config{Requests: 2, Window: 2 * time.Second}, clock.Now)
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))
	require.NoError(t, limiter.Acquire(ctx))
	for i := 0; i < 5; i++ {
		require.Error(t, limiter.Acquire(ctx))
	}

	clock.Advance(time.Second)
	assert.NoError(t, limiter.Acquire(ctx), "one token refilled after 1s")
	assert.Error(t, limiter.Acquire(ctx))
}

func TestLimiter_ContinuousRefill(t *testing.T) {
	clock := newMockClock()
	limiter := NewLimiterWithClock(Config{Requests: 10, Window: 60 * time.Second}, clock.Now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, limiter.Acquire(ctx))
	}
	assert.InDelta(t, 0, limiter.Available(), 0.001)

	clock.Advance(30 * time.Second)
	assert.InDelta(t, 5, limiter.Available(), 0.001)

	clock.Advance(10 * time.Minute)
	assert.InDelta(t, 10, limiter.Available(), 0.001, "bucket never exceeds capacity")
}

func TestLimiter_BoundedWait(t *testing.T) {
	limiter := NewLimiter(Config{Requests: 1, Window: 50 * time.Millisecond, MaxWait: time.Second})
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))
	start := time.Now()
	require.NoError(t, limiter.Acquire(ctx), "second call waits for refill instead of failing")
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	limiter := NewLimiter(Config{Requests: 1, Window: time.Hour, MaxWait: 2 * time.Hour})
	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := limiter.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_Concurrent(t *testing.T) {
	clock := newMockClock()
	limiter := NewLimiterWithClock(Config{Requests: 10, Window: 60 * time.Second}, clock.Now)
	ctx := context.Background()

	var allowed, denied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(ctx); err != nil {
				denied.Add(1)
				return
			}
			allowed.Add(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), allowed.Load())
	assert.Equal(t, int32(40), denied.Load())
}
