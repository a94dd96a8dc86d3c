package auth

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"

	"github.com/jellynash/bingo/internal/ttlcache"
)

// RevocationStore remembers revoked token ids until the tokens expire.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryRevocations is a bounded, expiring in-process store.
type MemoryRevocations struct {
	ids *ttlcache.Cache[string, struct{}]
}

func NewMemoryRevocations(clock quartz.Clock, capacity int) *MemoryRevocations {
	return &MemoryRevocations{ids: ttlcache.New[string, struct{}](clock, capacity)}
}

func (m *MemoryRevocations) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	m.ids.Set(tokenID, struct{}{}, ttl)
	return nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	_, ok := m.ids.Get(tokenID)
	return ok, nil
}

// RedisRevocations shares revocations across instances at revoked:<jti>.
type RedisRevocations struct {
	client redis.UniversalClient
}

func NewRedisRevocations(client redis.UniversalClient) *RedisRevocations {
	return &RedisRevocations{client: client}
}

func (r *RedisRevocations) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	return r.client.Set(ctx, "revoked:"+tokenID, "1", ttl).Err()
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, "revoked:"+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
