// Package ratelimit implements fixed-window request counters keyed by device
// credential or display id.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when allowed
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

func decide(count int64, max int, ttl time.Duration) Decision {
	if count > int64(max) {
		if ttl <= 0 {
			ttl = time.Second
		}
		return Decision{Allowed: false, RetryAfter: ttl}
	}
	return Decision{Allowed: true, Remaining: max - int(count)}
}
