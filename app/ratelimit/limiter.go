// Package ratelimit counts attempts per identifier in fixed windows.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one counted attempt.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	CheckAndIncrement(ctx context.Context, identifier string) (Decision, error)
}

func decide(count int64, threshold int, ttl time.Duration) Decision {
	remaining := threshold - int(count)
	if remaining < 0 {
		remaining = 0
	}
	if count <= int64(threshold) {
		return Decision{Allowed: true, Remaining: remaining}
	}
	if ttl < 0 {
		ttl = 0
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfter: ttl}
}

// Unlimited allows every attempt.
type Unlimited struct{}

func (Unlimited) CheckAndIncrement(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}
