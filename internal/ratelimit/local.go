package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	burst    *rate.Limiter
	minute   *rate.Limiter
	lastSeen time.Time
}

// Local is a per-process limiter. Budgets are not shared between
// instances; use Redis when more than one instance serves traffic.
type Local struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewLocal(policy Policy) *Local {
	return &Local{
		policy:  policy,
		now:     time.Now,
		buckets: map[string]*bucket{},
	}
}

func (l *Local) Allow(_ context.Context, key string) (Decision, error) {
	if l.policy.unlimited() {
		return allow(), nil
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketLocked(key, now)

	var reservations []*rate.Reservation
	for _, lim := range []*rate.Limiter{b.burst, b.minute} {
		if lim == nil {
			continue
		}
		r := lim.ReserveN(now, 1)
		if delay := r.DelayFrom(now); delay > 0 || !r.OK() {
			r.CancelAt(now)
			for _, taken := range reservations {
				taken.CancelAt(now)
			}
			return deny(delay), nil
		}
		reservations = append(reservations, r)
	}

	return allow(), nil
}

func (l *Local) bucketLocked(key string, now time.Time) *bucket {
	if b, exists := l.buckets[key]; exists {
		b.lastSeen = now
		return b
	}

	b := &bucket{lastSeen: now}
	if l.policy.Burst > 0 {
		window := l.policy.burstWindow()
		b.burst = rate.NewLimiter(rate.Every(window/time.Duration(l.policy.Burst)), l.policy.Burst)
	}
	if l.policy.PerMinute > 0 {
		b.minute = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.policy.PerMinute)), l.policy.PerMinute)
	}
	l.buckets[key] = b
	l.gcLocked(now)

	return b
}

func (l *Local) gcLocked(now time.Time) {
	if len(l.buckets) < 1000 {
		return
	}

	cutoff := now.Add(-10 * time.Minute)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
