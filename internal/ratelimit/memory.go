package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/jellynash/bingo/internal/ttlcache"
)

type bucket struct {
	count int
}

// MemoryLimiter keeps buckets in process. It suits a single instance and tests.
type MemoryLimiter struct {
	mu      sync.Mutex
	clock   quartz.Clock
	buckets *ttlcache.Cache[string, *bucket]
	locks   *ttlcache.Cache[string, time.Time]
}

func NewMemoryLimiter(clock quartz.Clock) *MemoryLimiter {
	return &MemoryLimiter{
		clock:   clock,
		buckets: ttlcache.New[string, *bucket](clock, 100_000),
		locks:   ttlcache.New[string, time.Time](clock, 100_000),
	}
}

func (l *MemoryLimiter) Consume(_ context.Context, key string, rule Rule) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if until, ok := l.locks.Get(key); ok {
		return Decision{Reset: until.Sub(now), LockedUntil: until}, nil
	}

	b, expiresAt, ok := l.buckets.GetWithExpiry(key)
	if !ok {
		b = &bucket{}
		expiresAt = now.Add(rule.Window)
		l.buckets.Set(key, b, rule.Window)
	}
	b.count++
	reset := expiresAt.Sub(now)

	if b.count > rule.Limit {
		if rule.Lockout > 0 {
			until := now.Add(rule.Lockout)
			l.locks.Set(key, until, rule.Lockout)
			return Decision{Reset: rule.Lockout, LockedUntil: until}, nil
		}
		return Decision{Reset: reset}, nil
	}
	return Decision{Allowed: true, Remaining: rule.Limit - b.count, Reset: reset}, nil
}
