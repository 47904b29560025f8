package ratelimiter

import "context"

// RateLimiter decides whether a request may proceed right now.
type RateLimiter interface {
	Allow() bool
}

// Waiter is a RateLimiter that can also block until a request is allowed.
// Outbound callers (embedding, completion) use it to pace themselves.
type Waiter interface {
	RateLimiter
	Wait(ctx context.Context) error
}
