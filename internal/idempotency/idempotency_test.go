package idempotency

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	Valid   bool   `json:"valid"`
	Strikes int    `json:"strikes"`
	ClaimID string `json:"claimId"`
}

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func stores(t *testing.T) map[string]Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Store{
		"redis":  NewRedisStore(client),
		"memory": NewMemoryStore(quartz.NewMock(t)),
	}
}

func TestDoReplays(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c := NewCache(store, time.Minute, testLogger())
			ctx := context.Background()
			var calls atomic.Int32

			fn := func() (result, error) {
				n := calls.Add(1)
				return result{Valid: false, Strikes: int(n), ClaimID: "claim_1"}, nil
			}

			first, replayed, err := Do(ctx, c, "claim:p1:abc", fn)
			require.NoError(t, err)
			assert.False(t, replayed)

			second, replayed, err := Do(ctx, c, "claim:p1:abc", fn)
			require.NoError(t, err)
			assert.True(t, replayed)

			assert.Equal(t, first, second)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestDoDoesNotCacheErrors(t *testing.T) {
	c := NewCache(NewMemoryStore(quartz.NewMock(t)), time.Minute, testLogger())
	ctx := context.Background()
	boom := errors.New("boom")
	var calls int

	_, _, err := Do(ctx, c, "k", func() (result, error) {
		calls++
		return result{}, boom
	})
	assert.ErrorIs(t, err, boom)

	got, replayed, err := Do(ctx, c, "k", func() (result, error) {
		calls++
		return result{Valid: true}, nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.True(t, got.Valid)
	assert.Equal(t, 2, calls)
}

func TestDoWithoutKeyAlwaysRuns(t *testing.T) {
	c := NewCache(NewMemoryStore(quartz.NewMock(t)), time.Minute, testLogger())
	var calls int
	for range 3 {
		_, replayed, err := Do(context.Background(), c, "", func() (int, error) {
			calls++
			return calls, nil
		})
		require.NoError(t, err)
		assert.False(t, replayed)
	}
	assert.Equal(t, 3, calls)
}

func TestDoCollapsesConcurrentDuplicates(t *testing.T) {
	c := NewCache(NewMemoryStore(quartz.NewMock(t)), time.Minute, testLogger())
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]result, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, _, err := Do(context.Background(), c, "dup", func() (result, error) {
				calls.Add(1)
				<-release
				return result{ClaimID: "claim_1"}, nil
			})
			assert.NoError(t, err)
			results[i] = r
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "claim_1", r.ClaimID)
	}
}

func TestMemoryStoreExpires(t *testing.T) {
	clock := quartz.NewMock(t)
	s := NewMemoryStore(clock)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "k", Record{StatusCode: 200, Body: []byte(`{}`)}, time.Second))
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(time.Second).MustWait(ctx)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScope(t *testing.T) {
	assert.Equal(t, "claim:p1:abc", Scope("claim", "p1", "abc"))
	assert.Empty(t, Scope("claim", "p1", ""))
}
