package ratelimiter

import (
	"sync"
	"time"
)

// FixedWindowCounter allows at most limit requests per window.
type FixedWindowCounter struct {
	limit       int
	window      time.Duration
	count       int
	windowStart time.Time
	mu          sync.Mutex
	now         func() time.Time
}

func NewFixedWindowCounter(limit int, window time.Duration) *FixedWindowCounter {
	return &FixedWindowCounter{
		limit:       limit,
		window:      window,
		windowStart: time.Now(),
		now:         time.Now,
	}
}

func (c *FixedWindowCounter) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.windowStart) >= c.window {
		c.windowStart = now
		c.count = 0
	}
	if c.count < c.limit {
		c.count++
		return true
	}
	return false
}
