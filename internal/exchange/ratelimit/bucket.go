// Package ratelimit provides the client-side token bucket used to pace
// outgoing exchange API requests per venue.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket implements a thread-safe, in-memory token bucket rate limiter.
type Bucket struct {
	capacity   int        // max tokens
	tokens     float64    // current tokens (float for partial refill)
	rate       float64    // tokens per second
	lastRefill time.Time  // last refill timestamp
	mu         sync.Mutex // protects state
}

// NewBucket creates a token bucket with the given capacity and refill rate
// (tokens per second).
func NewBucket(capacity int, rate float64) *Bucket {
	return &Bucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		rate:       rate,
		lastRefill: time.Now(),
	}
}

// Allow checks if a token can be consumed (does not consume).
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens >= 1
}

// Take attempts to consume a token. Returns false if rate limited.
func (b *Bucket) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1 {
		b.tokens -= 1
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= 1 {
			b.tokens -= 1
			b.mu.Unlock()
			return nil
		}
		// Time until one full token accrues.
		var delay time.Duration
		if b.rate > 0 {
			delay = time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
		} else {
			delay = 50 * time.Millisecond
		}
		b.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// refillLocked refills tokens based on elapsed time. Caller must hold b.mu.
func (b *Bucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > float64(b.capacity) {
			b.tokens = float64(b.capacity)
		}
		b.lastRefill = now
	}
}

// SetRate dynamically updates the refill rate (tokens/sec).
func (b *Bucket) SetRate(rate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	b.rate = rate
}
