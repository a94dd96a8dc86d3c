package game

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/deck"
	"github.com/jellynash/bingo/internal/events"
	"github.com/jellynash/bingo/internal/randutil"
	"github.com/jellynash/bingo/internal/store"
	"github.com/jellynash/bingo/internal/typeid"
)

// DrawResult is one committed draw.
type DrawResult struct {
	ID        string    `json:"id"`
	GameID    string    `json:"gameId"`
	Sequence  int       `json:"sequence"`
	Letter    string    `json:"letter"`
	Number    int       `json:"number"`
	Signature string    `json:"signature"`
	DrawnAt   time.Time `json:"drawnAt"`
}

// DrawSignature signs a draw with the game's draw key.
func DrawSignature(gameSignature, gameID string, seq, number int) string {
	return randutil.MAC(gameSignature, gameID+":"+strconv.Itoa(seq)+":"+strconv.Itoa(number))
}

// DrawNext draws the next ball of the persisted deck. The first draw moves
// an OPEN game to ACTIVE. Failures leave the game untouched.
func (s *Service) DrawNext(ctx context.Context, gameID, actor string) (*DrawResult, error) {
	var res DrawResult
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		g, err := lockGame(ctx, q, gameID)
		if err != nil {
			return err
		}
		if g.Status != store.GameOpen && g.Status != store.GameActive {
			return apperrors.New(apperrors.CodeGameNotActive, "Game is not active")
		}

		dk, err := deck.Parse(g.Deck)
		if err != nil {
			return err
		}
		seq, number, err := dk.Next(g.CurrentSequence)
		if errors.Is(err, deck.ErrExhausted) {
			return apperrors.New(apperrors.CodeNoNumbersRemaining, "No numbers remaining")
		} else if err != nil {
			return err
		}

		now := s.now()
		d := &store.Draw{
			ID:        s.ids.New(typeid.Draw),
			GameID:    g.ID,
			Sequence:  seq,
			Letter:    deck.Letter(number),
			Number:    number,
			Signature: DrawSignature(g.Signature, g.ID, seq, number),
			DrawnBy:   actor,
			DrawnAt:   now,
		}
		if err := q.InsertDraw(ctx, d); err != nil {
			return err
		}

		g.CurrentSequence = seq
		g.LastDrawAt = &now
		if g.Status == store.GameOpen {
			g.Status = store.GameActive
			if g.StartedAt == nil {
				g.StartedAt = &now
			}
			g.PausedAt = nil
		}
		if err := q.UpdateGame(ctx, g); err != nil {
			return err
		}

		res = DrawResult{
			ID:        d.ID,
			GameID:    g.ID,
			Sequence:  d.Sequence,
			Letter:    d.Letter,
			Number:    d.Number,
			Signature: d.Signature,
			DrawnAt:   now,
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("draw", err)
	}

	s.logger.Info("Draw committed", "game", gameID, "seq", res.Sequence, "number", res.Number, "actor", actor)
	s.publishState(ctx, gameID, events.Draw{
		Seq:       res.Sequence,
		Value:     res.Number,
		Letter:    res.Letter,
		Signature: res.Signature,
	})
	return &res, nil
}
