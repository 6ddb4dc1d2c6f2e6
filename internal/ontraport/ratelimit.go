package ontraport

import (
	"context"
	"sync"
	"time"
)

// Ontraport meters API usage per minute; 180 requests/minute leaves a
// steady rate of 3/s. A small burst absorbs the lookup+create pairs a
// single workflow issues back to back.
const (
	defaultRefillPerSecond = 3.0
	defaultBurst           = 5.0
)

// RateLimiter is a token bucket with exponential backoff after the API
// reports rate limiting.
type RateLimiter struct {
	mu           sync.Mutex
	tokens       float64
	lastRefill   time.Time
	maxTokens    float64
	refillRate   float64 // tokens per second
	backoffUntil time.Time
	rateErrors   int64

	metrics RateLimitMetrics
}

// RateLimitMetrics is a snapshot of limiter activity.
type RateLimitMetrics struct {
	RequestsTotal   int64
	RequestsBlocked int64
	RateErrors      int64
}

// NewRateLimiter creates a limiter tuned for the Ontraport API quota.
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWith(defaultRefillPerSecond, defaultBurst)
}

// NewRateLimiterWith creates a limiter with an explicit refill rate and
// burst capacity. Used directly in tests.
func NewRateLimiterWith(refillPerSecond, burst float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burst,
		maxTokens:  burst,
		refillRate: refillPerSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a request slot is available or the context is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()

		if until := rl.backoffUntil; time.Now().Before(until) {
			rl.mu.Unlock()
			select {
			case <-time.After(time.Until(until)):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		rl.refillTokens()

		if rl.tokens >= 1.0 {
			rl.tokens--
			rl.metrics.RequestsTotal++
			rl.mu.Unlock()
			return nil
		}

		wait := time.Duration(float64(time.Second) / rl.refillRate)
		rl.metrics.RequestsBlocked++
		rl.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// refillTokens adds tokens for elapsed time. Caller must hold the lock.
func (rl *RateLimiter) refillTokens() {
	now := time.Now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// HandleRateLimit backs off exponentially after a 429: 2s doubling to a
// 64s ceiling across consecutive rate errors.
func (rl *RateLimiter) HandleRateLimit() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.rateErrors++
	rl.metrics.RateErrors++

	shift := rl.rateErrors
	if shift > 6 {
		shift = 6
	}
	backoff := time.Duration(uint(1)<<uint(shift)) * time.Second

	rl.backoffUntil = time.Now().Add(backoff)
	rl.tokens = 0
}

// ResetBackoff clears the backoff state after a successful request.
func (rl *RateLimiter) ResetBackoff() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.rateErrors = 0
	rl.backoffUntil = time.Time{}
}

// Metrics returns a copy of the limiter counters.
func (rl *RateLimiter) Metrics() RateLimitMetrics {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.metrics
}
