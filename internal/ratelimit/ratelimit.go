// Package ratelimit enforces burst plus sustained request budgets per key.
//
// Two backends share one contract: Local keeps token buckets in process
// memory, Redis keeps fixed-window counters in a shared Redis so every
// service instance sees the same budget.
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Policy caps a key at Burst requests per BurstWindow and PerMinute
// requests per minute. A non-positive field disables that window.
type Policy struct {
	Burst       int
	BurstWindow time.Duration
	PerMinute   int
}

func (p Policy) burstWindow() time.Duration {
	if p.BurstWindow <= 0 {
		return 10 * time.Second
	}
	return p.BurstWindow
}

func (p Policy) unlimited() bool {
	return p.Burst <= 0 && p.PerMinute <= 0
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(retryAfter time.Duration) Decision {
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Unlimited admits everything.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (Decision, error) {
	return allow(), nil
}

// FailOpen consults l and admits the request when the backend errors.
// A Redis outage degrades rate limiting, never punching.
func FailOpen(ctx context.Context, l Limiter, key string) Decision {
	decision, err := l.Allow(ctx, key)
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		return allow()
	}
	return decision
}
