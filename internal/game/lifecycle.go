package game

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/deck"
	"github.com/jellynash/bingo/internal/events"
	"github.com/jellynash/bingo/internal/penalty"
	"github.com/jellynash/bingo/internal/randutil"
	"github.com/jellynash/bingo/internal/store"
	"github.com/jellynash/bingo/internal/typeid"
)

// CreateOptions configures a new game. Zero values take the configured
// defaults.
type CreateOptions struct {
	Name             string
	MaxPlayers       int
	AllowLateJoin    *bool
	AutoDrawInterval time.Duration
	WinnerLimit      int
	CreatedBy        string
}

// CreateGame derives the seed and deck for a new game and stores it in the
// LOBBY state under a fresh six digit PIN.
func (s *Service) CreateGame(ctx context.Context, opts CreateOptions) (*store.Game, error) {
	d := s.cfg.Defaults
	if opts.MaxPlayers == 0 {
		opts.MaxPlayers = d.MaxPlayers
	}
	if opts.AutoDrawInterval == 0 {
		opts.AutoDrawInterval = d.AutoDrawInterval
	}
	if opts.WinnerLimit == 0 {
		opts.WinnerLimit = d.WinnerLimit
	}
	lateJoin := d.AllowLateJoin
	if opts.AllowLateJoin != nil {
		lateJoin = *opts.AllowLateJoin
	}
	if opts.MaxPlayers < 1 || opts.WinnerLimit < 1 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "Max players and winner limit must be positive")
	}
	if err := validateInterval(opts.AutoDrawInterval); err != nil {
		return nil, err
	}
	if len(opts.Name) > 100 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "Name is too long")
	}

	nonce, err := randutil.Nonce()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "generate nonce", err)
	}
	id := s.ids.New(typeid.Game)
	seed := randutil.DeriveSeed(s.cfg.SeedSecret, id, nonce)
	dk, err := deck.FromSeed(seed)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "derive deck", err)
	}

	g := &store.Game{
		ID:               id,
		Name:             strings.TrimSpace(opts.Name),
		Status:           store.GameLobby,
		MaxPlayers:       opts.MaxPlayers,
		AllowLateJoin:    lateJoin,
		AutoDrawInterval: opts.AutoDrawInterval,
		WinnerLimit:      opts.WinnerLimit,
		Seed:             seed,
		Nonce:            nonce,
		Signature:        randutil.GameSignature(s.cfg.SeedSecret, id, nonce),
		Deck:             dk.Encode(),
		CreatedBy:        opts.CreatedBy,
		CreatedAt:        s.now(),
	}

	for attempt := 1; ; attempt++ {
		g.Pin, err = randutil.Pin()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "generate pin", err)
		}
		err = s.store.WithTx(ctx, func(q *store.Queries) error {
			return q.CreateGame(ctx, g)
		})
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt == pinAttempts {
			return nil, storeErr("create game", err)
		}
		s.logger.Debug("PIN collision, retrying", "attempt", attempt)
	}

	s.logger.Info("Game created", "game", g.ID, "pin", g.Pin)
	return g, nil
}

// OpenGame moves LOBBY to OPEN, or resumes a PAUSED game to ACTIVE.
func (s *Service) OpenGame(ctx context.Context, gameID string) (*store.Game, error) {
	var g *store.Game
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		g, err = lockGame(ctx, q, gameID)
		if err != nil {
			return err
		}
		switch g.Status {
		case store.GameLobby:
			g.Status = store.GameOpen
		case store.GamePaused:
			g.Status = store.GameActive
			g.PausedAt = nil
		default:
			return apperrors.New(apperrors.CodeInvalidTransition, "Cannot open a game that is "+string(g.Status))
		}
		return q.UpdateGame(ctx, g)
	})
	if err != nil {
		return nil, storeErr("open game", err)
	}

	s.logger.Info("Game opened", "game", g.ID, "status", g.Status)
	if g.AutoDrawEnabled {
		s.autoDraw.Start(g.ID, g.AutoDrawInterval)
	}
	s.publishState(ctx, g.ID)
	return g, nil
}

// PauseGame moves ACTIVE to PAUSED and stops auto-draw.
func (s *Service) PauseGame(ctx context.Context, gameID string) (*store.Game, error) {
	var g *store.Game
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		g, err = lockGame(ctx, q, gameID)
		if err != nil {
			return err
		}
		if g.Status != store.GameActive {
			return apperrors.New(apperrors.CodeInvalidTransition, "Cannot pause a game that is "+string(g.Status))
		}
		now := s.now()
		g.Status = store.GamePaused
		g.PausedAt = &now
		return q.UpdateGame(ctx, g)
	})
	if err != nil {
		return nil, storeErr("pause game", err)
	}

	s.autoDraw.Stop(g.ID)
	s.logger.Info("Game paused", "game", g.ID)
	s.publishState(ctx, g.ID)
	return g, nil
}

// SetAutoDraw switches the draw scheduler on or off. A zero interval keeps
// the stored one.
func (s *Service) SetAutoDraw(ctx context.Context, gameID string, enabled bool, interval time.Duration) (*store.Game, error) {
	if interval != 0 {
		if err := validateInterval(interval); err != nil {
			return nil, err
		}
	}

	var g *store.Game
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		g, err = lockGame(ctx, q, gameID)
		if err != nil {
			return err
		}
		if g.Status.Finished() {
			return apperrors.New(apperrors.CodeGameNotActive, "Game is not active")
		}
		g.AutoDrawEnabled = enabled
		if interval != 0 {
			g.AutoDrawInterval = interval
		}
		return q.UpdateGame(ctx, g)
	})
	if err != nil {
		return nil, storeErr("set auto draw", err)
	}

	if enabled {
		s.autoDraw.Start(g.ID, g.AutoDrawInterval)
	} else {
		s.autoDraw.Stop(g.ID)
	}
	s.logger.Info("Auto draw updated", "game", g.ID, "enabled", enabled, "interval", g.AutoDrawInterval)
	s.publishState(ctx, g.ID)
	return g, nil
}

// PenaltyResult is the player's strike state after a manual penalty.
type PenaltyResult struct {
	PlayerID   string `json:"playerId"`
	Strikes    int    `json:"strikes"`
	Status     string `json:"status"`
	CooldownMs int64  `json:"cooldownMs"`
}

// ApplyPenalty records a host-issued strike under the same cap and cooldown
// policy as false claims.
func (s *Service) ApplyPenalty(ctx context.Context, gameID, playerID string, kind penalty.Type, reason, appliedBy string) (*PenaltyResult, error) {
	if kind == "" {
		kind = penalty.TypeManual
	}
	if !kind.Valid() {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "Unknown penalty type "+string(kind))
	}
	if reason == "" {
		reason = "Manual penalty"
	}

	var res PenaltyResult
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		if _, err := lockGame(ctx, q, gameID); err != nil {
			return err
		}
		p, err := q.GetPlayer(ctx, playerID)
		if err != nil || p.GameID != gameID {
			return notFound(orNotFound(err), apperrors.CodePlayerNotFound, "Player not found")
		}

		now := s.now()
		out := s.cfg.Penalty.Strike(penaltyState(p), kind, now)
		applyPenaltyState(p, out.State, now)
		if err := q.UpdatePlayer(ctx, p); err != nil {
			return err
		}
		if err := q.CreatePenalty(ctx, s.penaltyRow(p, out, reason, appliedBy, now)); err != nil {
			return err
		}

		res = PenaltyResult{
			PlayerID:   p.ID,
			Strikes:    p.Strikes,
			Status:     string(p.Status),
			CooldownMs: out.Cooldown.Milliseconds(),
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("apply penalty", err)
	}

	s.logger.Info("Penalty applied", "game", gameID, "player", playerID, "type", kind, "strikes", res.Strikes)
	s.publishState(ctx, gameID)
	return &res, nil
}

// Snapshot reads the full state of a game.
func (s *Service) Snapshot(ctx context.Context, gameID string) (*events.Snapshot, error) {
	q := s.store.Read()
	g, err := q.GetGame(ctx, gameID)
	if err != nil {
		return nil, storeErr("snapshot", notFound(err, apperrors.CodeGameNotFound, "Game not found"))
	}
	draws, err := q.ListDraws(ctx, gameID)
	if err != nil {
		return nil, storeErr("snapshot", err)
	}
	players, err := q.ListPlayers(ctx, gameID)
	if err != nil {
		return nil, storeErr("snapshot", err)
	}
	winners, err := q.ListWinners(ctx, gameID)
	if err != nil {
		return nil, storeErr("snapshot", err)
	}

	snap := &events.Snapshot{
		GameID:          g.ID,
		Name:            g.Name,
		Status:          string(g.Status),
		CurrentSequence: g.CurrentSequence,
		Drawn:           make([]int, 0, len(draws)),
		AutoDraw: events.AutoDraw{
			Enabled:    g.AutoDrawEnabled,
			IntervalMs: g.AutoDrawInterval.Milliseconds(),
		},
		WinnerLimit: g.WinnerLimit,
		Players:     make([]events.PlayerSummary, 0, len(players)),
		Winners:     make([]events.WinnerSummary, 0, len(winners)),
	}
	for _, d := range draws {
		snap.Drawn = append(snap.Drawn, d.Number)
	}
	for _, p := range players {
		snap.Players = append(snap.Players, events.PlayerSummary{
			ID:           p.ID,
			Nickname:     p.Nickname,
			Status:       string(p.Status),
			Strikes:      p.Strikes,
			Disqualified: p.Disqualified,
		})
	}
	for _, w := range winners {
		snap.Winners = append(snap.Winners, events.WinnerSummary{
			PlayerID: w.PlayerID,
			Nickname: w.Nickname,
			Rank:     w.Rank,
			Pattern:  w.Pattern,
		})
	}
	return snap, nil
}

func orNotFound(err error) error {
	if err == nil {
		return store.ErrNotFound
	}
	return err
}

func penaltyState(p *store.Player) penalty.State {
	st := penalty.State{
		Strikes:      p.Strikes,
		InCooldown:   p.Status == store.PlayerCooldown,
		Disqualified: p.Disqualified,
	}
	if p.CooldownUntil != nil {
		st.CooldownUntil = *p.CooldownUntil
	}
	return st
}

func applyPenaltyState(p *store.Player, st penalty.State, now time.Time) {
	p.Strikes = st.Strikes
	p.Disqualified = st.Disqualified
	p.LastSeenAt = now
	if st.InCooldown {
		until := st.CooldownUntil
		p.Status = store.PlayerCooldown
		p.CooldownUntil = &until
		return
	}
	p.Status = store.PlayerActive
	p.CooldownUntil = nil
}

func (s *Service) penaltyRow(p *store.Player, out penalty.Outcome, reason, appliedBy string, now time.Time) *store.Penalty {
	row := &store.Penalty{
		ID:        s.ids.New(typeid.Penalty),
		GameID:    p.GameID,
		PlayerID:  p.ID,
		Type:      string(out.Type),
		Reason:    reason,
		Severity:  1,
		AppliedBy: appliedBy,
		AppliedAt: now,
	}
	if out.Cooldown > 0 {
		until := now.Add(out.Cooldown)
		row.ExpiresAt = &until
	}
	return row
}
