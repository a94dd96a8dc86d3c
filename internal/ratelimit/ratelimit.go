// Package ratelimit implements fixed-window request limits with an optional
// lockout once a window is exceeded.
package ratelimit

import (
	"context"
	"time"

	"github.com/jellynash/bingo/internal/apperrors"
)

// Rule is the budget for one action.
type Rule struct {
	Limit   int
	Window  time.Duration
	Lockout time.Duration // zero disables lockout
}

// Decision is the outcome of consuming one unit.
type Decision struct {
	Allowed     bool
	Remaining   int
	Reset       time.Duration
	LockedUntil time.Time
}

// Limiter consumes budget for a key.
type Limiter interface {
	Consume(ctx context.Context, key string, rule Rule) (Decision, error)
}

// Rules groups the budgets for the rate-limited actions.
type Rules struct {
	Join  Rule
	Claim Rule
	Mark  Rule
}

// DefaultRules returns the join, claim and mark budgets.
func DefaultRules() Rules {
	return Rules{
		Join:  Rule{Limit: 5, Window: time.Minute},
		Claim: Rule{Limit: 5, Window: time.Minute, Lockout: 2 * time.Minute},
		Mark:  Rule{Limit: 15, Window: 10 * time.Second, Lockout: 2 * time.Minute},
	}
}

// Key builds the bucket key for an action and caller identity.
func Key(action, identity string) string {
	return action + ":" + identity
}

// Enforce consumes one unit and converts a denial into a rate_limited error
// carrying resetMs and lockedUntil.
func Enforce(ctx context.Context, l Limiter, key string, rule Rule) error {
	if l == nil || rule.Limit <= 0 {
		return nil
	}
	d, err := l.Consume(ctx, key, rule)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnavailable, "rate limiter unavailable", err)
	}
	if d.Allowed {
		return nil
	}
	var lockedUntil int64
	if !d.LockedUntil.IsZero() {
		lockedUntil = d.LockedUntil.UnixMilli()
	}
	return apperrors.RateLimited(d.Reset.Milliseconds(), lockedUntil)
}
