// Package idempotency caches responses by caller-supplied key so retries
// replay the first result instead of repeating side effects.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a response stays replayable.
const DefaultTTL = 300 * time.Second

// Record is a cached response.
type Record struct {
	StatusCode int               `json:"statusCode"`
	Body       json.RawMessage   `json:"body"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Store persists records.
type Store interface {
	Get(ctx context.Context, key string) (*Record, bool, error)
	Save(ctx context.Context, key string, rec Record, ttl time.Duration) error
}

// Cache wraps a Store with replay logic. Concurrent calls with the same key
// in one process share a single execution.
type Cache struct {
	store  Store
	ttl    time.Duration
	logger *log.Logger
	group  singleflight.Group
}

func NewCache(store Store, ttl time.Duration, logger *log.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl, logger: logger.WithPrefix("idempotency")}
}

// Scope namespaces a caller key by action and actor.
func Scope(action, actor, key string) string {
	if key == "" {
		return ""
	}
	return action + ":" + actor + ":" + key
}

type outcome struct {
	body     json.RawMessage
	replayed bool
}

// Do returns the cached result for key, or runs fn and caches its result.
// Errors are never cached. An empty key always runs fn.
func Do[T any](ctx context.Context, c *Cache, key string, fn func() (T, error)) (T, bool, error) {
	var zero T
	if c == nil || key == "" {
		v, err := fn()
		return v, false, err
	}

	res, err, shared := c.group.Do(key, func() (any, error) {
		rec, ok, err := c.store.Get(ctx, key)
		if err != nil {
			c.logger.Warn("Idempotency lookup failed", "key", key, "error", err)
		} else if ok {
			return outcome{body: rec.Body, replayed: true}, nil
		}

		v, err := fn()
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode idempotent response: %w", err)
		}
		if err := c.store.Save(ctx, key, Record{StatusCode: http.StatusOK, Body: body}, c.ttl); err != nil {
			c.logger.Warn("Idempotency save failed", "key", key, "error", err)
		}
		return outcome{body: body}, nil
	})
	if err != nil {
		return zero, false, err
	}

	out := res.(outcome)
	var v T
	if err := json.Unmarshal(out.body, &v); err != nil {
		return zero, false, fmt.Errorf("decode idempotent response: %w", err)
	}
	return v, out.replayed || shared, nil
}
