package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jellynash/bingo/internal/auth"
)

// TokenCmd issues a host or screen token for an existing game.
type TokenCmd struct {
	Game    string        `required:"" help:"Game id"`
	Role    string        `default:"host" enum:"host,screen" help:"Token role (host or screen)"`
	Subject string        `help:"Token subject, defaults to the role"`
	TTL     time.Duration `help:"Token lifetime (defaults to auth.console_ttl)"`
}

func (c *TokenCmd) Run(g *Globals) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if _, err := rt.service.Snapshot(ctx, c.Game); err != nil {
		return err
	}
	subject := c.Subject
	if subject == "" {
		subject = c.Role
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = rt.cfg.ConsoleTTL()
	}
	token, id, err := rt.tokens.Issue(subject, auth.Role(c.Role), c.Game, ttl)
	if err != nil {
		return err
	}
	rt.logger.Info("Issued token", "game", c.Game, "role", c.Role, "expires", id.ExpiresAt)
	fmt.Println(token)
	return nil
}
