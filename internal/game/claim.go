package game

import (
	"context"
	"errors"
	"time"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/events"
	"github.com/jellynash/bingo/internal/idempotency"
	"github.com/jellynash/bingo/internal/pattern"
	"github.com/jellynash/bingo/internal/penalty"
	"github.com/jellynash/bingo/internal/ratelimit"
	"github.com/jellynash/bingo/internal/store"
	"github.com/jellynash/bingo/internal/typeid"
)

// Denial reasons reported on claim results.
const (
	ReasonPatternNotSatisfied = "Pattern not satisfied"
	ReasonAlreadyWon          = "Player has already won"
	ReasonGameNotActive       = "Game not active"
	ReasonValidationFailed    = "Validation failed"
)

const abandonTimeout = 5 * time.Second

// ClaimRequest asks for a pattern on the caller's card to be judged.
type ClaimRequest struct {
	PlayerID       string
	CardID         string
	Pattern        string
	IdempotencyKey string
}

// ClaimResult is the validated outcome of a claim.
type ClaimResult struct {
	ClaimID      string       `json:"claimId"`
	Pattern      pattern.Name `json:"pattern"`
	Valid        bool         `json:"valid"`
	Status       string       `json:"status"`
	Rank         int          `json:"rank,omitempty"`
	DenialReason string       `json:"denialReason,omitempty"`
	Strikes      int          `json:"strikes"`
	CooldownMs   int64        `json:"cooldownMs"`
	GameComplete bool         `json:"gameComplete,omitempty"`
}

// Claim records a claim attempt and validates it against the draw history.
// A player in cooldown is rejected before any claim is recorded.
func (s *Service) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	name, ok := pattern.Parse(req.Pattern)
	if !ok {
		return nil, apperrors.New(apperrors.CodeInvalidPattern, "Unknown pattern "+req.Pattern)
	}

	key := idempotency.Scope("claim", req.PlayerID, req.IdempotencyKey)
	res, _, err := idempotency.Do(ctx, s.idempotency, key, func() (*ClaimResult, error) {
		if err := ratelimit.Enforce(ctx, s.limiter, ratelimit.Key("claim", req.PlayerID), s.cfg.Rules.Claim); err != nil {
			return nil, err
		}
		claimID, err := s.submitClaim(ctx, req, name)
		if err != nil {
			return nil, err
		}
		res, err := s.validateClaim(ctx, claimID)
		if err != nil {
			s.abandonClaim(ctx, claimID)
			return nil, err
		}
		return res, nil
	})
	return res, err
}

// abandonClaim denies a claim whose validation did not commit, so a retry
// with the same key does not leave a second PENDING claim behind it.
func (s *Service) abandonClaim(ctx context.Context, claimID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()

	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		cl, err := q.GetClaim(ctx, claimID)
		if err != nil {
			return err
		}
		if cl.Status != store.ClaimPending {
			return nil
		}
		now := s.now()
		cl.Status = store.ClaimDenied
		cl.DenialReason = ReasonValidationFailed
		cl.ValidatedAt = &now
		return q.UpdateClaim(ctx, cl)
	})
	if err != nil {
		s.logger.Warn("Failed to abandon claim", "claim", claimID, "error", err)
	}
}

// submitClaim checks ownership and cooldown and stores a PENDING claim.
func (s *Service) submitClaim(ctx context.Context, req ClaimRequest, name pattern.Name) (string, error) {
	id := s.ids.New(typeid.Claim)
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		c, err := q.GetCard(ctx, req.CardID)
		if err != nil {
			return notFound(err, apperrors.CodeCardNotFound, "Card not found")
		}
		if c.PlayerID != req.PlayerID {
			return apperrors.New(apperrors.CodeForbidden, "Cannot claim for another player")
		}
		g, err := lockGame(ctx, q, c.GameID)
		if err != nil {
			return err
		}
		if g.Status.Finished() {
			return apperrors.New(apperrors.CodeGameNotActive, "Game is not active")
		}
		p, err := q.GetPlayer(ctx, c.PlayerID)
		if err != nil {
			return notFound(err, apperrors.CodePlayerNotFound, "Player not found")
		}

		now := s.now()
		if remaining := penaltyState(p).Remaining(now); remaining > 0 {
			return apperrors.Cooldown(remaining.Milliseconds())
		}
		if p.Status == store.PlayerCooldown {
			p.Status = store.PlayerActive
			p.CooldownUntil = nil
			p.LastSeenAt = now
			if err := q.UpdatePlayer(ctx, p); err != nil {
				return err
			}
		}

		return q.CreateClaim(ctx, &store.Claim{
			ID:        id,
			GameID:    g.ID,
			PlayerID:  p.ID,
			CardID:    c.ID,
			Pattern:   string(name),
			Status:    store.ClaimPending,
			CreatedAt: now,
		})
	})
	if err != nil {
		return "", storeErr("submit claim", err)
	}
	return id, nil
}

// validateClaim judges a PENDING claim in one transaction. The game row lock
// serialises win position allocation, so concurrent winners receive distinct,
// gapless ranks.
func (s *Service) validateClaim(ctx context.Context, claimID string) (*ClaimResult, error) {
	var (
		res    ClaimResult
		event  events.Claim
		gameID string
	)
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		cl, err := q.GetClaim(ctx, claimID)
		if err != nil {
			return notFound(err, apperrors.CodeClaimNotFound, "Claim not found")
		}
		g, err := lockGame(ctx, q, cl.GameID)
		if err != nil {
			return err
		}
		gameID = g.ID
		p, err := q.GetPlayer(ctx, cl.PlayerID)
		if err != nil {
			return notFound(err, apperrors.CodePlayerNotFound, "Player not found")
		}
		c, err := q.GetCard(ctx, cl.CardID)
		if err != nil {
			return notFound(err, apperrors.CodeCardNotFound, "Card not found")
		}
		drawn, err := q.DrawnNumbers(ctx, g.ID)
		if err != nil {
			return err
		}

		target, ok := pattern.Lookup(pattern.Name(cl.Pattern))
		if !ok {
			return apperrors.New(apperrors.CodeInvalidPattern, "Unknown pattern "+cl.Pattern)
		}
		mask := pattern.MarksFromDraws(c.Grid, drawn)
		_, satisfied := pattern.ValidateClaim(mask, []pattern.Pattern{target})

		now := s.now()
		cl.ValidatedAt = &now
		res = ClaimResult{ClaimID: cl.ID, Pattern: target.Name, Strikes: p.Strikes}
		event = events.Claim{CardID: c.ID, PlayerID: p.ID, Nickname: p.Nickname}

		switch {
		case g.Status.Finished():
			cl.Status = store.ClaimDenied
			cl.DenialReason = ReasonGameNotActive
		case satisfied:
			if _, err := q.AcceptedClaimFor(ctx, g.ID, p.ID); err == nil {
				cl.Status = store.ClaimDenied
				cl.DenialReason = ReasonAlreadyWon
				break
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			winners, err := q.CountAcceptedClaims(ctx, g.ID)
			if err != nil {
				return err
			}
			cl.Status = store.ClaimAccepted
			cl.IsWinner = true
			cl.WinPosition = winners + 1
			res.Valid = true
			res.Rank = cl.WinPosition

			if cl.WinPosition >= g.WinnerLimit {
				g.Status = store.GameCompleted
				g.CompletedAt = &now
				g.AutoDrawEnabled = false
				if err := q.UpdateGame(ctx, g); err != nil {
					return err
				}
				res.GameComplete = true
			}
		default:
			out := s.cfg.Penalty.Strike(penaltyState(p), penalty.TypeFalseClaim, now)
			applyPenaltyState(p, out.State, now)
			if err := q.UpdatePlayer(ctx, p); err != nil {
				return err
			}
			if err := q.CreatePenalty(ctx, s.penaltyRow(p, out, ReasonPatternNotSatisfied, "system", now)); err != nil {
				return err
			}
			cl.Status = store.ClaimDenied
			cl.DenialReason = ReasonPatternNotSatisfied
			res.Strikes = p.Strikes
			res.CooldownMs = out.Cooldown.Milliseconds()
			event.Penalty = &events.PenaltyInfo{Strikes: p.Strikes, CooldownMs: res.CooldownMs}
		}

		res.Status = string(cl.Status)
		res.DenialReason = cl.DenialReason
		if res.Valid {
			event.Result = events.ResultApproved
			event.Rank = res.Rank
			event.Pattern = string(target.Name)
		} else {
			event.Result = events.ResultDenied
			event.Reason = cl.DenialReason
		}
		return q.UpdateClaim(ctx, cl)
	})
	if err != nil {
		return nil, storeErr("validate claim", err)
	}

	if res.GameComplete {
		s.autoDraw.Stop(gameID)
	}
	s.logger.Info("Claim validated", "game", gameID, "claim", res.ClaimID, "pattern", res.Pattern,
		"valid", res.Valid, "rank", res.Rank, "strikes", res.Strikes)
	s.publishState(ctx, gameID, event)
	return &res, nil
}
