// ABOUTME: Rate limiter interface and decision type for the chain proxy
// ABOUTME: Implementations count requests per key over a sliding window

package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int           // requests left in the current window
	RetryAfter time.Duration // how long to wait when not allowed
}

// Limiter decides whether a request identified by key may proceed.
// Allowed requests are counted against the key's window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
