package ontraport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := NewRateLimiterWith(1.0, 3.0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "burst capacity should not block")

	m := rl.Metrics()
	assert.Equal(t, int64(3), m.RequestsTotal)
}

func TestRateLimiterBlocksWhenExhausted(t *testing.T) {
	rl := NewRateLimiterWith(10.0, 1.0)
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx))

	start := time.Now()
	require.NoError(t, rl.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "second request waits for refill")
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	rl := NewRateLimiterWith(0.001, 1.0)
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx))

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	err := rl.Wait(cancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiterBackoffAfterRateError(t *testing.T) {
	rl := NewRateLimiterWith(1000.0, 10.0)

	rl.HandleRateLimit()

	rl.mu.Lock()
	until := rl.backoffUntil
	rl.mu.Unlock()
	assert.InDelta(t, 2.0, time.Until(until).Seconds(), 0.5, "first rate error backs off ~2s")

	// Waiting inside the backoff window respects cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)

	assert.Equal(t, int64(1), rl.Metrics().RateErrors)
}

func TestRateLimiterBackoffDoubles(t *testing.T) {
	rl := NewRateLimiterWith(1000.0, 10.0)

	rl.HandleRateLimit()
	rl.HandleRateLimit()

	rl.mu.Lock()
	until := rl.backoffUntil
	rl.mu.Unlock()
	assert.InDelta(t, 4.0, time.Until(until).Seconds(), 0.5, "second consecutive rate error backs off ~4s")
}

func TestRateLimiterResetClearsBackoff(t *testing.T) {
	rl := NewRateLimiterWith(1000.0, 10.0)

	rl.HandleRateLimit()
	rl.ResetBackoff()

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
