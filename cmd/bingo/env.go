package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"

	"github.com/jellynash/bingo/internal/auth"
	"github.com/jellynash/bingo/internal/config"
	"github.com/jellynash/bingo/internal/events"
	"github.com/jellynash/bingo/internal/game"
	"github.com/jellynash/bingo/internal/idempotency"
	"github.com/jellynash/bingo/internal/ratelimit"
	"github.com/jellynash/bingo/internal/store"
)

const revocationCapacity = 100_000

// runtime holds everything a command needs, built from the config.
type runtime struct {
	cfg     *config.Config
	logger  *log.Logger
	clock   quartz.Clock
	store   *store.Store
	redis   *redis.Client
	broker  events.Broker
	tokens  *auth.Tokens
	service *game.Service
	closers []func() error
}

func newLogger(level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
	}), nil
}

// loadConfig reads and validates the config named by the globals.
func loadConfig(g *Globals) (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, nil, err
	}
	if g.LogLevel != "" {
		cfg.Server.LogLevel = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openStore opens the database and applies pending migrations.
func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (*store.Store, error) {
	return store.Open(ctx, store.Options{
		Driver: store.Driver(cfg.Database.Driver),
		DSN:    cfg.Database.DSN,
		Logger: logger,
	})
}

// newRuntime wires the store, shared state, broker and game service.
func newRuntime(ctx context.Context, g *Globals) (*runtime, error) {
	cfg, logger, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, clock: quartz.NewReal()}
	if err := rt.wire(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wire(ctx context.Context) error {
	cfg := rt.cfg
	st, err := openStore(ctx, cfg, rt.logger)
	if err != nil {
		return err
	}
	rt.store = st
	rt.closers = append(rt.closers, st.Close)

	var (
		limiter     ratelimit.Limiter
		cacheStore  idempotency.Store
		revocations auth.RevocationStore
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rt.redis = redis.NewClient(opts)
		rt.closers = append(rt.closers, rt.redis.Close)
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		limiter = ratelimit.NewRedisLimiter(rt.redis, rt.clock)
		cacheStore = idempotency.NewRedisStore(rt.redis)
		revocations = auth.NewRedisRevocations(rt.redis)
	} else {
		rt.logger.Warn("No redis configured, rate limits and revocations are process local")
		limiter = ratelimit.NewMemoryLimiter(rt.clock)
		cacheStore = idempotency.NewMemoryStore(rt.clock)
		revocations = auth.NewMemoryRevocations(rt.clock, revocationCapacity)
	}

	switch cfg.Broker.Kind {
	case "redis":
		rt.broker = events.NewRedisBroker(rt.redis, cfg.Broker.Channel, rt.logger)
	case "amqp":
		b, err := events.DialAMQP(cfg.Broker.AMQPURL, cfg.Broker.Exchange, rt.logger)
		if err != nil {
			return err
		}
		rt.broker = b
	default:
		rt.broker = events.NewMemoryBroker()
	}
	rt.closers = append(rt.closers, rt.broker.Close)

	gameCfg, err := cfg.GameConfig()
	if err != nil {
		return err
	}
	rt.tokens = auth.NewTokens(cfg.Auth.JWTSecret, rt.clock, revocations)
	rt.service, err = game.New(gameCfg, game.Deps{
		Store:       st,
		Publisher:   rt.broker,
		Limiter:     limiter,
		Idempotency: idempotency.NewCache(cacheStore, cfg.IdempotencyTTL(), rt.logger),
		Tokens:      rt.tokens,
		Clock:       rt.clock,
		Logger:      rt.logger,
	})
	return err
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	return errors.Join(errs...)
}
