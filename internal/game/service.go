// Package game runs the authoritative bingo state machine: game lifecycle,
// joining, marking, claim validation and draw advancement. Every mutation
// runs in one storage transaction that locks the game row, and its outcome
// is published only after the transaction commits.
package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/auth"
	"github.com/jellynash/bingo/internal/events"
	"github.com/jellynash/bingo/internal/idempotency"
	"github.com/jellynash/bingo/internal/penalty"
	"github.com/jellynash/bingo/internal/ratelimit"
	"github.com/jellynash/bingo/internal/store"
	"github.com/jellynash/bingo/internal/typeid"
)

const (
	MinAutoDrawInterval = 5 * time.Second
	MaxAutoDrawInterval = 20 * time.Second

	pinAttempts = 5
)

// Defaults are applied to fields a game creator leaves unset.
type Defaults struct {
	MaxPlayers       int
	AllowLateJoin    bool
	AutoDrawInterval time.Duration
	WinnerLimit      int
}

func DefaultDefaults() Defaults {
	return Defaults{
		MaxPlayers:       1000,
		AllowLateJoin:    true,
		AutoDrawInterval: 8 * time.Second,
		WinnerLimit:      1,
	}
}

// Config holds the game rules and secrets.
type Config struct {
	// SeedSecret keys game seeds and card signatures.
	SeedSecret     string
	Penalty        penalty.Policy
	Rules          ratelimit.Rules
	Defaults       Defaults
	SessionTTL     time.Duration
	PublishTimeout time.Duration

	// PublishAttempts bounds broker retries per event. The first retry waits
	// PublishBackoff and each later one doubles it.
	PublishAttempts int
	PublishBackoff  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Penalty:         penalty.DefaultPolicy(),
		Rules:           ratelimit.DefaultRules(),
		Defaults:        DefaultDefaults(),
		SessionTTL:      12 * time.Hour,
		PublishTimeout:  2 * time.Second,
		PublishAttempts: 3,
		PublishBackoff:  100 * time.Millisecond,
	}
}

// Deps are the collaborators a Service is built from. Store, Tokens and
// Publisher are required; a nil Limiter or Idempotency disables that check.
type Deps struct {
	Store       *store.Store
	Publisher   events.Publisher
	Limiter     ratelimit.Limiter
	Idempotency *idempotency.Cache
	Tokens      *auth.Tokens
	Clock       quartz.Clock
	Logger      *log.Logger
	IDs         *typeid.Generator
}

// Service exposes the game operations.
type Service struct {
	cfg         Config
	store       *store.Store
	limiter     ratelimit.Limiter
	idempotency *idempotency.Cache
	tokens      *auth.Tokens
	clock       quartz.Clock
	logger      *log.Logger
	ids         *typeid.Generator
	notify      *notifier
	autoDraw    *Scheduler
}

// New wires a Service.
func New(cfg Config, deps Deps) (*Service, error) {
	if cfg.SeedSecret == "" {
		return nil, errors.New("game: seed secret is required")
	}
	if deps.Store == nil || deps.Tokens == nil || deps.Publisher == nil {
		return nil, errors.New("game: store, tokens and publisher are required")
	}
	if deps.Clock == nil {
		deps.Clock = quartz.NewReal()
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.IDs == nil {
		deps.IDs = typeid.NewGenerator(nil)
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.Penalty.StrikesAllowed <= 0 {
		cfg.Penalty.StrikesAllowed = penalty.DefaultPolicy().StrikesAllowed
	}

	logger := deps.Logger.WithPrefix("game")
	s := &Service{
		cfg:         cfg,
		store:       deps.Store,
		limiter:     deps.Limiter,
		idempotency: deps.Idempotency,
		tokens:      deps.Tokens,
		clock:       deps.Clock,
		logger:      logger,
		ids:         deps.IDs,
		notify:      newNotifier(deps.Publisher, deps.Clock, cfg, logger),
	}
	s.autoDraw = newScheduler(s, deps.Clock, logger)
	return s, nil
}

// AutoDraw returns the per-game draw scheduler.
func (s *Service) AutoDraw() *Scheduler {
	return s.autoDraw
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// notFound maps store.ErrNotFound to the given code and passes any other
// error through.
func notFound(err error, code apperrors.Code, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.New(code, message)
	}
	return err
}

// storeErr turns what escapes a transaction into a coded error.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if errors.Is(err, store.ErrTransient) {
		return apperrors.Wrap(apperrors.CodeUnavailable, op+": storage busy", err)
	}
	return apperrors.Wrap(apperrors.CodeInternal, op, err)
}

func lockGame(ctx context.Context, q *store.Queries, gameID string) (*store.Game, error) {
	g, err := q.LockGame(ctx, gameID)
	if err != nil {
		return nil, notFound(err, apperrors.CodeGameNotFound, "Game not found")
	}
	return g, nil
}

func validateInterval(d time.Duration) error {
	if d < MinAutoDrawInterval || d > MaxAutoDrawInterval {
		return apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("Auto draw interval must be between %s and %s", MinAutoDrawInterval, MaxAutoDrawInterval))
	}
	return nil
}
