// Package config loads the bingo server configuration from an HCL file and
// applies environment overrides for secrets and deployment endpoints.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/jellynash/bingo/internal/game"
	"github.com/jellynash/bingo/internal/penalty"
	"github.com/jellynash/bingo/internal/ratelimit"
	"github.com/jellynash/bingo/internal/store"
)

// Config is the complete server configuration.
type Config struct {
	Server      ServerSettings
	Database    DatabaseSettings
	Redis       RedisSettings
	Broker      BrokerSettings
	Game        GameSettings
	Penalty     PenaltySettings
	RateLimit   RateLimitSettings
	Idempotency IdempotencySettings
	Auth        AuthSettings
}

// fileConfig mirrors Config with every block optional.
type fileConfig struct {
	Server      *ServerSettings      `hcl:"server,block"`
	Database    *DatabaseSettings    `hcl:"database,block"`
	Redis       *RedisSettings       `hcl:"redis,block"`
	Broker      *BrokerSettings      `hcl:"broker,block"`
	Game        *GameSettings        `hcl:"game,block"`
	Penalty     *PenaltySettings     `hcl:"penalty,block"`
	RateLimit   *RateLimitSettings   `hcl:"rate_limit,block"`
	Idempotency *IdempotencySettings `hcl:"idempotency,block"`
	Auth        *AuthSettings        `hcl:"auth,block"`
}

type ServerSettings struct {
	Address          string `hcl:"address,optional"`
	Port             int    `hcl:"port,optional"`
	LogLevel         string `hcl:"log_level,optional"`
	TrustProxy       bool   `hcl:"trust_proxy,optional"`
	HandshakeTimeout string `hcl:"handshake_timeout,optional"`
}

type DatabaseSettings struct {
	Driver string `hcl:"driver,optional"`
	DSN    string `hcl:"dsn,optional"`
}

// RedisSettings points at the shared store. An empty URL keeps rate limits,
// idempotency and revocations in process memory.
type RedisSettings struct {
	URL string `hcl:"url,optional"`
}

type BrokerSettings struct {
	Kind     string `hcl:"kind,optional"` // memory, redis or amqp
	Channel  string `hcl:"channel,optional"`
	AMQPURL  string `hcl:"amqp_url,optional"`
	Exchange string `hcl:"exchange,optional"`
}

type GameSettings struct {
	SeedSecret       string `hcl:"seed_secret,optional"`
	MaxPlayers       int    `hcl:"max_players,optional"`
	AllowLateJoin    *bool  `hcl:"allow_late_join,optional"`
	AutoDrawInterval string `hcl:"auto_draw_interval,optional"`
	WinnerLimit      int    `hcl:"winner_limit,optional"`
	PublishTimeout   string `hcl:"publish_timeout,optional"`
	PublishAttempts  int    `hcl:"publish_attempts,optional"`
}

type PenaltySettings struct {
	StrikesAllowed int    `hcl:"strikes_allowed,optional"`
	Cooldown       string `hcl:"cooldown,optional"`
}

type RateLimitSettings struct {
	Lockout     string `hcl:"lockout,optional"`
	JoinLimit   int    `hcl:"join_limit,optional"`
	JoinWindow  string `hcl:"join_window,optional"`
	ClaimLimit  int    `hcl:"claim_limit,optional"`
	ClaimWindow string `hcl:"claim_window,optional"`
	MarkLimit   int    `hcl:"mark_limit,optional"`
	MarkWindow  string `hcl:"mark_window,optional"`
}

type IdempotencySettings struct {
	TTL string `hcl:"ttl,optional"`
}

type AuthSettings struct {
	JWTSecret  string `hcl:"jwt_secret,optional"`
	SessionTTL string `hcl:"session_ttl,optional"`
	ConsoleTTL string `hcl:"console_ttl,optional"`
}

// Env holds the environment overrides. Set values win over the file.
type Env struct {
	JWTSecret   string `env:"BINGO_JWT_SECRET"`
	SeedSecret  string `env:"BINGO_GAME_SEED_SECRET"`
	DatabaseURL string `env:"BINGO_DATABASE_URL"`
	RedisURL    string `env:"BINGO_REDIS_URL"`
	AMQPURL     string `env:"BINGO_AMQP_URL"`
	LogLevel    string `env:"BINGO_LOG_LEVEL"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerSettings{
			Address:          "localhost",
			Port:             8080,
			LogLevel:         "info",
			HandshakeTimeout: "10s",
		},
		Database: DatabaseSettings{Driver: string(store.DriverSQLite), DSN: "bingo.db"},
		Broker:   BrokerSettings{Kind: "memory", Channel: "bingo:events", Exchange: "bingo.events"},
		Game: GameSettings{
			MaxPlayers:       1000,
			AutoDrawInterval: "8s",
			WinnerLimit:      1,
			PublishTimeout:   "2s",
			PublishAttempts:  3,
		},
		Penalty: PenaltySettings{StrikesAllowed: 3, Cooldown: "30s"},
		RateLimit: RateLimitSettings{
			Lockout:     "2m",
			JoinLimit:   5,
			JoinWindow:  "1m",
			ClaimLimit:  5,
			ClaimWindow: "1m",
			MarkLimit:   15,
			MarkWindow:  "10s",
		},
		Idempotency: IdempotencySettings{TTL: "5m"},
		Auth:        AuthSettings{SessionTTL: "12h", ConsoleTTL: "15m"},
	}
}

// Load reads filename, fills unset values from Default and applies the
// environment. A missing file yields the defaults.
func Load(filename string) (*Config, error) {
	cfg := Default()
	_, err := os.Stat(filename)
	switch {
	case err == nil:
		cfg, err = parseFile(filename)
		if err != nil {
			return nil, err
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("stat config: %w", err)
	}

	var e Env
	if err = env.Parse(&e); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.ApplyEnv(e)
	return cfg, nil
}

func parseFile(filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}
	var fc fileConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &fc); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	cfg := &Config{}
	copyBlock(&cfg.Server, fc.Server)
	copyBlock(&cfg.Database, fc.Database)
	copyBlock(&cfg.Redis, fc.Redis)
	copyBlock(&cfg.Broker, fc.Broker)
	copyBlock(&cfg.Game, fc.Game)
	copyBlock(&cfg.Penalty, fc.Penalty)
	copyBlock(&cfg.RateLimit, fc.RateLimit)
	copyBlock(&cfg.Idempotency, fc.Idempotency)
	copyBlock(&cfg.Auth, fc.Auth)
	cfg.fillDefaults()
	return cfg, nil
}

func copyBlock[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (c *Config) fillDefaults() {
	d := Default()
	setString(&c.Server.Address, d.Server.Address)
	setInt(&c.Server.Port, d.Server.Port)
	setString(&c.Server.LogLevel, d.Server.LogLevel)
	setString(&c.Server.HandshakeTimeout, d.Server.HandshakeTimeout)
	setString(&c.Database.Driver, d.Database.Driver)
	setString(&c.Database.DSN, d.Database.DSN)
	setString(&c.Broker.Kind, d.Broker.Kind)
	setString(&c.Broker.Channel, d.Broker.Channel)
	setString(&c.Broker.Exchange, d.Broker.Exchange)
	setInt(&c.Game.MaxPlayers, d.Game.MaxPlayers)
	setString(&c.Game.AutoDrawInterval, d.Game.AutoDrawInterval)
	setInt(&c.Game.WinnerLimit, d.Game.WinnerLimit)
	setString(&c.Game.PublishTimeout, d.Game.PublishTimeout)
	setInt(&c.Game.PublishAttempts, d.Game.PublishAttempts)
	setInt(&c.Penalty.StrikesAllowed, d.Penalty.StrikesAllowed)
	setString(&c.Penalty.Cooldown, d.Penalty.Cooldown)
	setString(&c.RateLimit.Lockout, d.RateLimit.Lockout)
	setInt(&c.RateLimit.JoinLimit, d.RateLimit.JoinLimit)
	setString(&c.RateLimit.JoinWindow, d.RateLimit.JoinWindow)
	setInt(&c.RateLimit.ClaimLimit, d.RateLimit.ClaimLimit)
	setString(&c.RateLimit.ClaimWindow, d.RateLimit.ClaimWindow)
	setInt(&c.RateLimit.MarkLimit, d.RateLimit.MarkLimit)
	setString(&c.RateLimit.MarkWindow, d.RateLimit.MarkWindow)
	setString(&c.Idempotency.TTL, d.Idempotency.TTL)
	setString(&c.Auth.SessionTTL, d.Auth.SessionTTL)
	setString(&c.Auth.ConsoleTTL, d.Auth.ConsoleTTL)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

// ApplyEnv overlays non-empty environment values.
func (c *Config) ApplyEnv(e Env) {
	if e.JWTSecret != "" {
		c.Auth.JWTSecret = e.JWTSecret
	}
	if e.SeedSecret != "" {
		c.Game.SeedSecret = e.SeedSecret
	}
	if e.DatabaseURL != "" {
		c.Database.DSN = e.DatabaseURL
		if strings.HasPrefix(e.DatabaseURL, "postgres://") || strings.HasPrefix(e.DatabaseURL, "postgresql://") {
			c.Database.Driver = string(store.DriverPostgres)
		}
	}
	if e.RedisURL != "" {
		c.Redis.URL = e.RedisURL
	}
	if e.AMQPURL != "" {
		c.Broker.AMQPURL = e.AMQPURL
	}
	if e.LogLevel != "" {
		c.Server.LogLevel = e.LogLevel
	}
}

// Validate checks values and durations. Secrets are required.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	switch store.Driver(c.Database.Driver) {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("database: unsupported driver %q", c.Database.Driver)
	}
	switch c.Broker.Kind {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("broker: redis broker needs redis.url or BINGO_REDIS_URL")
		}
	case "amqp":
		if c.Broker.AMQPURL == "" {
			return errors.New("broker: amqp broker needs broker.amqp_url or BINGO_AMQP_URL")
		}
	default:
		return fmt.Errorf("broker: unknown kind %q", c.Broker.Kind)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth: jwt secret is required (BINGO_JWT_SECRET)")
	}
	if c.Game.SeedSecret == "" {
		return errors.New("game: seed secret is required (BINGO_GAME_SEED_SECRET)")
	}
	if c.Game.MaxPlayers < 1 || c.Game.WinnerLimit < 1 {
		return errors.New("game: max_players and winner_limit must be positive")
	}
	if c.Penalty.StrikesAllowed < 1 {
		return errors.New("penalty: strikes_allowed must be positive")
	}
	if _, err := c.GameConfig(); err != nil {
		return err
	}
	for name, v := range map[string]string{
		"server.handshake_timeout": c.Server.HandshakeTimeout,
		"idempotency.ttl":          c.Idempotency.TTL,
		"auth.console_ttl":         c.Auth.ConsoleTTL,
	} {
		if _, err := parseDuration(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Address returns the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// GameConfig converts the file settings into the game service configuration.
func (c *Config) GameConfig() (game.Config, error) {
	var (
		p   durations
		cfg = game.DefaultConfig()
	)
	cfg.SeedSecret = c.Game.SeedSecret
	cfg.Defaults.MaxPlayers = c.Game.MaxPlayers
	cfg.Defaults.WinnerLimit = c.Game.WinnerLimit
	if c.Game.AllowLateJoin != nil {
		cfg.Defaults.AllowLateJoin = *c.Game.AllowLateJoin
	}
	cfg.Defaults.AutoDrawInterval = p.parse("game.auto_draw_interval", c.Game.AutoDrawInterval)
	cfg.PublishTimeout = p.parse("game.publish_timeout", c.Game.PublishTimeout)
	cfg.PublishAttempts = c.Game.PublishAttempts
	cfg.SessionTTL = p.parse("auth.session_ttl", c.Auth.SessionTTL)
	cfg.Penalty = penalty.Policy{
		StrikesAllowed: c.Penalty.StrikesAllowed,
		Cooldown:       p.parse("penalty.cooldown", c.Penalty.Cooldown),
	}
	lockout := p.parse("rate_limit.lockout", c.RateLimit.Lockout)
	cfg.Rules = ratelimit.Rules{
		Join: ratelimit.Rule{
			Limit:  c.RateLimit.JoinLimit,
			Window: p.parse("rate_limit.join_window", c.RateLimit.JoinWindow),
		},
		Claim: ratelimit.Rule{
			Limit:   c.RateLimit.ClaimLimit,
			Window:  p.parse("rate_limit.claim_window", c.RateLimit.ClaimWindow),
			Lockout: lockout,
		},
		Mark: ratelimit.Rule{
			Limit:   c.RateLimit.MarkLimit,
			Window:  p.parse("rate_limit.mark_window", c.RateLimit.MarkWindow),
			Lockout: lockout,
		},
	}
	if p.err != nil {
		return game.Config{}, p.err
	}
	if d := cfg.Defaults.AutoDrawInterval; d < game.MinAutoDrawInterval || d > game.MaxAutoDrawInterval {
		return game.Config{}, fmt.Errorf("game.auto_draw_interval: %s is outside %s-%s", d, game.MinAutoDrawInterval, game.MaxAutoDrawInterval)
	}
	return cfg, nil
}

// HandshakeTimeout returns the parsed server.handshake_timeout.
func (c *Config) HandshakeTimeout() time.Duration {
	d, _ := parseDuration("server.handshake_timeout", c.Server.HandshakeTimeout)
	return d
}

// IdempotencyTTL returns the parsed idempotency.ttl.
func (c *Config) IdempotencyTTL() time.Duration {
	d, _ := parseDuration("idempotency.ttl", c.Idempotency.TTL)
	return d
}

// ConsoleTTL is the lifetime of host and screen tokens.
func (c *Config) ConsoleTTL() time.Duration {
	d, _ := parseDuration("auth.console_ttl", c.Auth.ConsoleTTL)
	return d
}

// durations collects the first parse failure so conversions read linearly.
type durations struct {
	err error
}

func (p *durations) parse(name, value string) time.Duration {
	d, err := parseDuration(name, value)
	if err != nil && p.err == nil {
		p.err = err
	}
	return d
}

func parseDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", name)
	}
	return d, nil
}
