package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/jellynash/bingo/internal/auth"
	"github.com/jellynash/bingo/internal/game"
)

// CreateGameCmd creates a game and prints its id, PIN and console tokens.
type CreateGameCmd struct {
	Name             string        `arg:"" optional:"" help:"Display name"`
	MaxPlayers       int           `help:"Player cap (0 uses the configured default)"`
	WinnerLimit      int           `help:"Winners before the game completes (0 uses the configured default)"`
	AutoDrawInterval time.Duration `help:"Auto-draw interval between 5s and 20s (0 uses the configured default)"`
	NoLateJoin       bool          `help:"Refuse joins once the first number is drawn"`
	Host             string        `default:"host" help:"Subject recorded as the game's creator"`
}

type createdGame struct {
	GameID      string `json:"gameId"`
	Pin         string `json:"pin"`
	Status      string `json:"status"`
	HostToken   string `json:"hostToken"`
	ScreenToken string `json:"screenToken"`
}

func (c *CreateGameCmd) Run(g *Globals) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	opts := game.CreateOptions{
		Name:             c.Name,
		MaxPlayers:       c.MaxPlayers,
		WinnerLimit:      c.WinnerLimit,
		AutoDrawInterval: c.AutoDrawInterval,
		CreatedBy:        c.Host,
	}
	if c.NoLateJoin {
		late := false
		opts.AllowLateJoin = &late
	}
	created, err := rt.service.CreateGame(ctx, opts)
	if err != nil {
		return err
	}

	ttl := rt.cfg.ConsoleTTL()
	hostToken, _, err := rt.tokens.Issue(c.Host, auth.RoleHost, created.ID, ttl)
	if err != nil {
		return err
	}
	screenToken, _, err := rt.tokens.Issue("screen", auth.RoleScreen, created.ID, ttl)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(createdGame{
		GameID:      created.ID,
		Pin:         created.Pin,
		Status:      string(created.Status),
		HostToken:   hostToken,
		ScreenToken: screenToken,
	})
}
