package gateway

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/auth"
	"github.com/jellynash/bingo/internal/events"
	"github.com/jellynash/bingo/internal/game"
	"github.com/jellynash/bingo/internal/penalty"
	"github.com/jellynash/bingo/internal/store"
)

type command struct {
	roles []auth.Role
	run   func(ctx context.Context, c *Connection, data json.RawMessage) (any, error)
}

func (cmd command) allows(role auth.Role) bool {
	return slices.Contains(cmd.roles, role)
}

var (
	anyRole    = []auth.Role{auth.RolePlayer, auth.RoleHost, auth.RoleScreen}
	hostOnly   = []auth.Role{auth.RoleHost}
	playerOnly = []auth.Role{auth.RolePlayer}
)

// commands is the set of frames a socket may send after its handshake.
var commands = map[MessageType]command{
	TypeSnapshot: {anyRole, runSnapshot},
	TypeMark:     {playerOnly, runMark},
	TypeClaim:    {playerOnly, runClaim},
	TypeDraw:     {hostOnly, runDraw},
	TypeOpen:     {hostOnly, runOpen},
	TypePause:    {hostOnly, runPause},
	TypeAutoDraw: {hostOnly, runAutoDraw},
	TypePenalty:  {hostOnly, runPenalty},
	TypeMediaCue: {hostOnly, runMediaCue},
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, apperrors.Wrap(apperrors.CodeInvalidArgument, "Malformed command data", err)
	}
	return v, nil
}

func gameState(g *store.Game) GameState {
	return GameState{
		GameID: g.ID,
		Status: string(g.Status),
		AutoDraw: events.AutoDraw{
			Enabled:    g.AutoDrawEnabled,
			IntervalMs: g.AutoDrawInterval.Milliseconds(),
		},
	}
}

func runSnapshot(ctx context.Context, c *Connection, _ json.RawMessage) (any, error) {
	return c.server.svc.Snapshot(ctx, c.identity.GameID)
}

func runMark(ctx context.Context, c *Connection, data json.RawMessage) (any, error) {
	d, err := decode[MarkData](data)
	if err != nil {
		return nil, err
	}
	return c.server.svc.Mark(ctx, game.MarkRequest{
		PlayerID:       c.identity.Subject,
		CardID:         d.CardID,
		Position:       d.Position,
		Marked:         d.Marked,
		IdempotencyKey: d.IdempotencyKey,
	})
}

func runClaim(ctx context.Context, c *Connection, data json.RawMessage) (any, error) {
	d, err := decode[ClaimData](data)
	if err != nil {
		return nil, err
	}
	return c.server.svc.Claim(ctx, game.ClaimRequest{
		PlayerID:       c.identity.Subject,
		CardID:         d.CardID,
		Pattern:        d.Pattern,
		IdempotencyKey: d.IdempotencyKey,
	})
}

func runDraw(ctx context.Context, c *Connection, _ json.RawMessage) (any, error) {
	return c.server.svc.DrawNext(ctx, c.identity.GameID, c.identity.Subject)
}

func runOpen(ctx context.Context, c *Connection, _ json.RawMessage) (any, error) {
	g, err := c.server.svc.OpenGame(ctx, c.identity.GameID)
	if err != nil {
		return nil, err
	}
	return gameState(g), nil
}

func runPause(ctx context.Context, c *Connection, _ json.RawMessage) (any, error) {
	g, err := c.server.svc.PauseGame(ctx, c.identity.GameID)
	if err != nil {
		return nil, err
	}
	return gameState(g), nil
}

func runAutoDraw(ctx context.Context, c *Connection, data json.RawMessage) (any, error) {
	d, err := decode[AutoDrawData](data)
	if err != nil {
		return nil, err
	}
	interval := time.Duration(d.IntervalMs) * time.Millisecond
	g, err := c.server.svc.SetAutoDraw(ctx, c.identity.GameID, d.Enabled, interval)
	if err != nil {
		return nil, err
	}
	return gameState(g), nil
}

func runPenalty(ctx context.Context, c *Connection, data json.RawMessage) (any, error) {
	d, err := decode[PenaltyData](data)
	if err != nil {
		return nil, err
	}
	return c.server.svc.ApplyPenalty(ctx, c.identity.GameID, d.PlayerID, penalty.Type(d.Type), d.Reason, c.identity.Subject)
}

func runMediaCue(ctx context.Context, c *Connection, data json.RawMessage) (any, error) {
	d, err := decode[CueData](data)
	if err != nil {
		return nil, err
	}
	if err := c.server.svc.MediaCue(ctx, c.identity.GameID, d.Cue, d.Payload); err != nil {
		return nil, err
	}
	return map[string]string{"cue": d.Cue}, nil
}
