package game

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/jellynash/bingo/internal/auth"
	"github.com/jellynash/bingo/internal/card"
	"github.com/jellynash/bingo/internal/deck"
	"github.com/jellynash/bingo/internal/events"
	"github.com/jellynash/bingo/internal/idempotency"
	"github.com/jellynash/bingo/internal/randutil"
	"github.com/jellynash/bingo/internal/ratelimit"
	"github.com/jellynash/bingo/internal/store"
	"github.com/jellynash/bingo/internal/typeid"
)

const testSecret = "k"

type fixture struct {
	svc    *Service
	dsn    string
	store  *store.Store
	clock  *quartz.Mock
	broker *events.MemoryBroker
	tokens *auth.Tokens
	events *recorder
}

type recorder struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (r *recorder) handle(env events.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recorder) names() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, 0, len(r.envs))
	for _, e := range r.envs {
		out = append(out, e.Event)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = nil
}

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()
	clock := quartz.NewMock(t)

	dsn := filepath.Join(t.TempDir(), "bingo.db")
	st, err := store.Open(ctx, store.Options{
		Driver: store.DriverSQLite,
		DSN:    dsn,
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := DefaultConfig()
	cfg.SeedSecret = testSecret
	cfg.Rules = ratelimit.Rules{
		Join:  ratelimit.Rule{Limit: 100, Window: time.Minute},
		Claim: ratelimit.Rule{Limit: 100, Window: time.Minute},
		Mark:  ratelimit.Rule{Limit: 100, Window: time.Minute},
	}
	for _, m := range mutate {
		m(&cfg)
	}

	broker := events.NewMemoryBroker()
	rec := &recorder{}
	subCtx, cancel := context.WithCancel(ctx)
	go func() { _ = broker.Subscribe(subCtx, rec.handle) }()
	t.Cleanup(cancel)
	require.Eventually(t, func() bool { return broker.Subscribers() == 1 }, time.Second, time.Millisecond)

	tokens := auth.NewTokens("jwt-secret", clock, auth.NewMemoryRevocations(clock, 1000))
	svc, err := New(cfg, Deps{
		Store:       st,
		Publisher:   broker,
		Limiter:     ratelimit.NewMemoryLimiter(clock),
		Idempotency: idempotency.NewCache(idempotency.NewMemoryStore(clock), 0, logger),
		Tokens:      tokens,
		Clock:       clock,
		Logger:      logger,
	})
	require.NoError(t, err)
	t.Cleanup(svc.AutoDraw().Shutdown)

	return &fixture{svc: svc, dsn: dsn, store: st, clock: clock, broker: broker, tokens: tokens, events: rec}
}

// insertGame stores a game whose seed derives from (testSecret, id, nonce).
func (f *fixture) insertGame(t *testing.T, id, nonce string, status store.GameStatus, mutate ...func(*store.Game)) *store.Game {
	t.Helper()
	seed := randutil.DeriveSeed(testSecret, id, nonce)
	dk, err := deck.FromSeed(seed)
	require.NoError(t, err)

	g := &store.Game{
		ID:               id,
		Pin:              "123456",
		Status:           status,
		MaxPlayers:       100,
		AllowLateJoin:    true,
		AutoDrawInterval: 8 * time.Second,
		WinnerLimit:      1,
		Seed:             seed,
		Nonce:            nonce,
		Signature:        randutil.GameSignature(testSecret, id, nonce),
		Deck:             dk.Encode(),
		CreatedAt:        f.clock.Now(),
	}
	for _, m := range mutate {
		m(g)
	}
	require.NoError(t, f.store.WithTx(context.Background(), func(q *store.Queries) error {
		return q.CreateGame(context.Background(), g)
	}))
	return g
}

// join adds a player through the service and returns the player and card ids.
func (f *fixture) join(t *testing.T, pin, nickname string) *JoinResult {
	t.Helper()
	res, err := f.svc.Join(context.Background(), JoinRequest{Pin: pin, Nickname: nickname, ClientIP: "10.0.0.1"})
	require.NoError(t, err)
	return res
}

// drawNumbers writes draws for the given numbers directly, bypassing the deck
// order, and advances the game's sequence to match.
func (f *fixture) drawNumbers(t *testing.T, gameID string, numbers ...int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.WithTx(ctx, func(q *store.Queries) error {
		g, err := q.LockGame(ctx, gameID)
		if err != nil {
			return err
		}
		for _, n := range numbers {
			g.CurrentSequence++
			if err := q.InsertDraw(ctx, &store.Draw{
				ID:        f.svc.ids.New(typeid.Draw),
				GameID:    gameID,
				Sequence:  g.CurrentSequence,
				Letter:    deck.Letter(n),
				Number:    n,
				Signature: DrawSignature(g.Signature, gameID, g.CurrentSequence, n),
				DrawnBy:   "test",
				DrawnAt:   f.clock.Now(),
			}); err != nil {
				return err
			}
		}
		return q.UpdateGame(ctx, g)
	}))
}

func (f *fixture) card(t *testing.T, cardID string) *store.Card {
	t.Helper()
	c, err := f.store.Read().GetCard(context.Background(), cardID)
	require.NoError(t, err)
	return c
}

func (f *fixture) player(t *testing.T, playerID string) *store.Player {
	t.Helper()
	p, err := f.store.Read().GetPlayer(context.Background(), playerID)
	require.NoError(t, err)
	return p
}

func row(g card.Grid, r int) []int {
	return append([]int(nil), g[r*5:r*5+5]...)
}
