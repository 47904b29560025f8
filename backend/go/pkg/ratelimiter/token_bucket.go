package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// TokenBucket refills at rate tokens per second up to capacity, allowing bursts.
type TokenBucket struct {
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
	mu       sync.Mutex
	now      func() time.Time
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(rate float64, capacity int) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		rate:     rate,
		capacity: float64(capacity),
		tokens:   float64(capacity),
		last:     time.Now(),
		now:      time.Now,
	}
}

// Allow consumes one token if available.
func (tb *TokenBucket) Allow() bool {
	ok, _ := tb.reserve()
	return ok
}

// Wait blocks until a token is available or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		ok, delay := tb.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve returns whether a token was taken and, if not, how long until one is due.
func (tb *TokenBucket) reserve() (bool, time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	if elapsed := now.Sub(tb.last); elapsed > 0 {
		tb.tokens += elapsed.Seconds() * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.last = now
	}
	if tb.tokens >= 1 {
		tb.tokens--
		return true, 0
	}
	if tb.rate <= 0 {
		return false, time.Second
	}
	missing := 1 - tb.tokens
	return false, time.Duration(missing / tb.rate * float64(time.Second))
}

var _ Waiter = (*TokenBucket)(nil)
