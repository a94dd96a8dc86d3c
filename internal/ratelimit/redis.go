package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares buckets across processes. Buckets live at rl:<key>
// and lockouts at rl:lock:<key>.
type RedisLimiter struct {
	client redis.UniversalClient
	clock  quartz.Clock
}

func NewRedisLimiter(client redis.UniversalClient, clock quartz.Clock) *RedisLimiter {
	return &RedisLimiter{client: client, clock: clock}
}

func (l *RedisLimiter) Consume(ctx context.Context, key string, rule Rule) (Decision, error) {
	now := l.clock.Now()
	bucketKey := "rl:" + key
	lockKey := "rl:lock:" + key

	if rule.Lockout > 0 {
		raw, err := l.client.Get(ctx, lockKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return Decision{}, fmt.Errorf("read lock: %w", err)
		default:
			if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil && ms > now.UnixMilli() {
				until := time.UnixMilli(ms)
				return Decision{Reset: until.Sub(now), LockedUntil: until}, nil
			}
		}
	}

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, bucketKey)
	pttl := pipe.PTTL(ctx, bucketKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("consume bucket: %w", err)
	}

	count := int(incr.Val())
	ttl := pttl.Val()
	if count == 1 || ttl < 0 {
		if err := l.client.PExpire(ctx, bucketKey, rule.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("expire bucket: %w", err)
		}
		ttl = rule.Window
	}
	reset := ttl
	if reset <= 0 {
		reset = rule.Window
	}

	if count > rule.Limit {
		if rule.Lockout > 0 {
			until := now.Add(rule.Lockout)
			err := l.client.Set(ctx, lockKey, strconv.FormatInt(until.UnixMilli(), 10), rule.Lockout).Err()
			if err != nil {
				return Decision{}, fmt.Errorf("write lock: %w", err)
			}
			return Decision{Reset: rule.Lockout, LockedUntil: until}, nil
		}
		return Decision{Reset: reset}, nil
	}

	return Decision{Allowed: true, Remaining: rule.Limit - count, Reset: reset}, nil
}
