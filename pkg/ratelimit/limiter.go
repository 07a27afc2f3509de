package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request or ctx ends.
	// It returns the time spent waiting.
	Wait(ctx context.Context) (time.Duration, error)
	// Reset resets the rate limiter state
	Reset()
}

// TokenBucket implements a token bucket rate limiter. Tokens refill
// continuously at rate per second up to capacity.
type TokenBucket struct {
	capacity   float64
	tokens     float64
	rate       float64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a token bucket that allows burst requests at once
// and refills capacity tokens every refillPeriod
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillPeriod <= 0 {
		refillPeriod = time.Second
	}
	return newTokenBucket(float64(capacity), float64(capacity)/refillPeriod.Seconds(), time.Now)
}

// PerMinute creates a token bucket allowing requestsPerMinute sustained
// requests with bursts of up to burst
func PerMinute(requestsPerMinute, burst int) *TokenBucket {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	if burst < 1 {
		burst = 1
	}
	return newTokenBucket(float64(burst), float64(requestsPerMinute)/60, time.Now)
}

func newTokenBucket(capacity, rate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		rate:       rate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}

	return false
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	for !tb.Allow() {
		tb.mu.Lock()
		missing := 1 - tb.tokens
		delay := time.Duration(missing / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		if delay < time.Millisecond {
			delay = time.Millisecond
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waited, ctx.Err()
		case <-timer.C:
		}
		waited += delay
	}
	return waited, nil
}

// Reset resets the token bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = tb.now()
}

// refill adds tokens based on elapsed time
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}

	tb.tokens += elapsed.Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Unlimited never blocks
type Unlimited struct{}

// Allow always returns true
func (Unlimited) Allow() bool { return true }

// Wait returns immediately unless ctx is already done
func (Unlimited) Wait(ctx context.Context) (time.Duration, error) { return 0, ctx.Err() }

// Reset is a no-op
func (Unlimited) Reset() {}
