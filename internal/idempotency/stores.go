package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"

	"github.com/jellynash/bingo/internal/ttlcache"
)

// RedisStore keeps records at idem:<key>.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, bool, error) {
	raw, err := s.client.Get(ctx, "idem:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("decode record: %w", err)
	}
	return &rec, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, "idem:"+key, raw, ttl).Err()
}

// MemoryStore keeps records in process.
type MemoryStore struct {
	records *ttlcache.Cache[string, Record]
}

func NewMemoryStore(clock quartz.Clock) *MemoryStore {
	return &MemoryStore{records: ttlcache.New[string, Record](clock, 50_000)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, bool, error) {
	rec, ok := s.records.Get(key)
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, rec Record, ttl time.Duration) error {
	s.records.Set(key, rec, ttl)
	return nil
}
