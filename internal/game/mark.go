package game

import (
	"context"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/card"
	"github.com/jellynash/bingo/internal/idempotency"
	"github.com/jellynash/bingo/internal/pattern"
	"github.com/jellynash/bingo/internal/ratelimit"
	"github.com/jellynash/bingo/internal/store"
)

var freeMarks = pattern.FromPositions([]int{card.FreeIndex})

func markMask(m uint32) pattern.Mask {
	return pattern.Mask(m)
}

// MarkRequest toggles one cell on the caller's card.
type MarkRequest struct {
	PlayerID       string
	CardID         string
	Position       int
	Marked         bool
	IdempotencyKey string
}

// MarkResult lists the marked cells and the patterns they complete.
type MarkResult struct {
	Marks            []int          `json:"marks"`
	EligiblePatterns []pattern.Name `json:"eligiblePatterns"`
}

// Mark records a player's own mark. Marks are display state; claims are
// always judged from the draw history.
func (s *Service) Mark(ctx context.Context, req MarkRequest) (*MarkResult, error) {
	if req.Position < 0 || req.Position >= card.Cells {
		return nil, apperrors.New(apperrors.CodeInvalidPosition, "Position must be between 0 and 24")
	}

	key := idempotency.Scope("mark", req.PlayerID, req.IdempotencyKey)
	res, _, err := idempotency.Do(ctx, s.idempotency, key, func() (*MarkResult, error) {
		if err := ratelimit.Enforce(ctx, s.limiter, ratelimit.Key("mark", req.PlayerID), s.cfg.Rules.Mark); err != nil {
			return nil, err
		}
		return s.mark(ctx, req)
	})
	return res, err
}

func (s *Service) mark(ctx context.Context, req MarkRequest) (*MarkResult, error) {
	var res MarkResult
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		c, err := q.GetCard(ctx, req.CardID)
		if err != nil {
			return notFound(err, apperrors.CodeCardNotFound, "Card not found")
		}
		if c.PlayerID != req.PlayerID {
			return apperrors.New(apperrors.CodeForbidden, "Cannot mark another player's card")
		}
		if _, err := lockGame(ctx, q, c.GameID); err != nil {
			return err
		}
		drawn, err := q.DrawnNumbers(ctx, c.GameID)
		if err != nil {
			return err
		}

		marks := markMask(c.Marks)
		bit := pattern.FromPositions([]int{req.Position})
		switch {
		case req.Position == card.FreeIndex:
		case req.Marked:
			if !drawn[c.Grid[req.Position]] {
				return apperrors.New(apperrors.CodeNumberNotDrawn, "Number has not been drawn")
			}
			marks |= bit
		default:
			marks &^= bit
		}
		marks = marks.WithFree()

		if err := q.UpdateCardMarks(ctx, c.ID, uint32(marks)); err != nil {
			return err
		}

		confirmed := marks & pattern.MarksFromDraws(c.Grid, drawn)
		res = MarkResult{
			Marks:            marks.Positions(),
			EligiblePatterns: pattern.Eligible(confirmed, pattern.Standard()),
		}
		if res.EligiblePatterns == nil {
			res.EligiblePatterns = []pattern.Name{}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("mark", err)
	}
	return &res, nil
}
