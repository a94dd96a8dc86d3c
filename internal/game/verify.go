package game

import (
	"context"
	"fmt"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/card"
	"github.com/jellynash/bingo/internal/deck"
	"github.com/jellynash/bingo/internal/randutil"
)

// VerifyReport is the outcome of auditing a game's randomness and
// signatures.
type VerifyReport struct {
	GameID     string   `json:"gameId"`
	Draws      int      `json:"draws"`
	Cards      int      `json:"cards"`
	Mismatches []string `json:"mismatches"`
}

// OK reports whether the audit found nothing wrong.
func (r *VerifyReport) OK() bool {
	return len(r.Mismatches) == 0
}

func (r *VerifyReport) fail(format string, args ...any) {
	r.Mismatches = append(r.Mismatches, fmt.Sprintf(format, args...))
}

// Verify re-derives a game's seed and deck from its nonce and checks every
// stored draw and card against them.
func (s *Service) Verify(ctx context.Context, gameID string) (*VerifyReport, error) {
	q := s.store.Read()
	g, err := q.GetGame(ctx, gameID)
	if err != nil {
		return nil, storeErr("verify", notFound(err, apperrors.CodeGameNotFound, "Game not found"))
	}
	report := &VerifyReport{GameID: g.ID, Mismatches: []string{}}

	if seed := randutil.DeriveSeed(s.cfg.SeedSecret, g.ID, g.Nonce); seed != g.Seed {
		report.fail("seed does not match nonce")
	}
	if sig := randutil.GameSignature(s.cfg.SeedSecret, g.ID, g.Nonce); !randutil.EqualMAC(sig, g.Signature) {
		report.fail("game signature does not match nonce")
	}

	derived, err := deck.FromSeed(g.Seed)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "derive deck", err)
	}
	if stored, err := deck.Parse(g.Deck); err != nil {
		report.fail("stored deck is invalid: %v", err)
	} else if stored.Encode() != derived.Encode() {
		report.fail("stored deck differs from seed")
	}

	draws, err := q.ListDraws(ctx, gameID)
	if err != nil {
		return nil, storeErr("verify", err)
	}
	report.Draws = len(draws)
	for i, d := range draws {
		if d.Sequence != i+1 {
			report.fail("draw %d: gap in sequence, expected %d", d.Sequence, i+1)
		}
		if want, ok := derived.At(d.Sequence); !ok || want != d.Number {
			report.fail("draw %d: number %d, deck has %d", d.Sequence, d.Number, want)
		}
		if !randutil.EqualMAC(DrawSignature(g.Signature, g.ID, d.Sequence, d.Number), d.Signature) {
			report.fail("draw %d: bad signature", d.Sequence)
		}
	}
	if len(draws) != g.CurrentSequence {
		report.fail("current sequence %d but %d draws stored", g.CurrentSequence, len(draws))
	}

	cards, err := q.ListCards(ctx, gameID)
	if err != nil {
		return nil, storeErr("verify", err)
	}
	report.Cards = len(cards)
	for _, c := range cards {
		if err := c.Grid.Validate(); err != nil {
			report.fail("card %s: %v", c.ID, err)
		}
		if !card.Verify(s.cfg.SeedSecret, g.ID, c.PlayerID, c.Grid, c.Signature) {
			report.fail("card %s: bad signature", c.ID)
		}
		dealt, err := card.ForPlayer(s.cfg.SeedSecret, g.Seed, g.ID, c.PlayerID)
		if err == nil && dealt.Grid != c.Grid {
			report.fail("card %s: layout differs from seed", c.ID)
		}
	}
	return report, nil
}
