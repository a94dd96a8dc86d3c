package game

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/events"
	"github.com/jellynash/bingo/internal/store"
)

func TestClaimAcceptsCompletedRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertGame(t, "g1", "n1", store.GameActive)
	joined := f.join(t, "123456", "ana")
	grid := f.card(t, joined.CardID).Grid
	f.drawNumbers(t, "g1", row(grid, 0)...)
	f.events.reset()

	res, err := f.svc.Claim(ctx, ClaimRequest{PlayerID: joined.PlayerID, CardID: joined.CardID, Pattern: "row1"})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "ACCEPTED", res.Status)
	assert.Equal(t, 1, res.Rank)
	assert.Equal(t, 0, res.Strikes)
	assert.True(t, res.GameComplete)

	p := f.player(t, joined.PlayerID)
	assert.Equal(t, 0, p.Strikes)

	g, err := f.store.Read().GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, store.GameCompleted, g.Status)
	assert.False(t, g.AutoDrawEnabled)

	assert.Equal(t, []events.Event{events.ClaimResult, events.StateUpdate}, f.events.names())
	env := f.events.envs[0]
	payload, err := events.Decode(env)
	require.NoError(t, err)
	assert.Equal(t, &events.Claim{
		CardID:   joined.CardID,
		PlayerID: joined.PlayerID,
		Nickname: "ana",
		Result:   events.ResultApproved,
		Rank:     1,
		Pattern:  "ROW_1",
	}, payload)
}

func TestClaimDeniesPartialRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertGame(t, "g1", "n1", store.GameActive)
	joined := f.join(t, "123456", "ana")
	grid := f.card(t, joined.CardID).Grid
	f.drawNumbers(t, "g1", row(grid, 0)[:3]...)

	res, err := f.svc.Claim(ctx, ClaimRequest{PlayerID: joined.PlayerID, CardID: joined.CardID, Pattern: "row1"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "DENIED", res.Status)
	assert.Equal(t, ReasonPatternNotSatisfied, res.DenialReason)
	assert.Equal(t, 1, res.Strikes)
	assert.Zero(t, res.CooldownMs)

	p := f.player(t, joined.PlayerID)
	assert.Equal(t, 1, p.Strikes)
	assert.Equal(t, store.PlayerActive, p.Status)

	penalties, err := f.store.Read().ListPenalties(ctx, "g1", joined.PlayerID)
	require.NoError(t, err)
	require.Len(t, penalties, 1)
	assert.Equal(t, "FALSE_CLAIM", penalties[0].Type)
}

func TestClaimJudgesOnlyRequestedPattern(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertGame(t, "g1", "n1", store.GameActive, func(g *store.Game) { g.WinnerLimit = 5 })
	joined := f.join(t, "123456", "ana")
	grid := f.card(t, joined.CardID).Grid

	// Rows 1 and 2 complete; column 1 does not.
	f.drawNumbers(t, "g1", append(row(grid, 0), row(grid, 1)...)...)

	res, err := f.svc.Claim(ctx, ClaimRequest{PlayerID: joined.PlayerID, CardID: joined.CardID, Pattern: "ROW_2"})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "ROW_2", string(res.Pattern))
}

func TestClaimIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertGame(t, "g1", "n1", store.GameActive)
	joined := f.join(t, "123456", "ana")

	req := ClaimRequest{PlayerID: joined.PlayerID, CardID: joined.CardID, Pattern: "ROW_3", IdempotencyKey: "abc"}
	first, err := f.svc.Claim(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.Claim(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.player(t, joined.PlayerID).Strikes)
	penalties, err := f.store.Read().ListPenalties(ctx, "g1", joined.PlayerID)
	require.NoError(t, err)
	assert.Len(t, penalties, 1)

	req.IdempotencyKey = "def"
	third, err := f.svc.Claim(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ClaimID, third.ClaimID)
	assert.Equal(t, 2, third.Strikes)
}

func TestStrikesEscalateToCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertGame(t, "g1", "n1", store.GameActive)
	joined := f.join(t, "123456", "ana")
	req := ClaimRequest{PlayerID: joined.PlayerID, CardID: joined.CardID, Pattern: "FOUR_CORNERS"}

	for i := 1; i <= 2; i++ {
		res, err := f.svc.Claim(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, i, res.Strikes)
		assert.Zero(t, res.CooldownMs)
	}

	res, err := f.svc.Claim(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Strikes)
	assert.Equal(t, int64(30_000), res.CooldownMs)

	p := f.player(t, joined.PlayerID)
	assert.Equal(t, store.PlayerCooldown, p.Status)
	assert.True(t, p.Disqualified)
	require.NotNil(t, p.CooldownUntil)

	_, err = f.svc.Claim(ctx, req)
	assert.Equal(t, apperrors.KindCooldown, apperrors.KindOf(err))
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "30000", appErr.Metadata["cooldownMs"])

	f.clock.Advance(30 * time.Second).MustWait(ctx)

	res, err = f.svc.Claim(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 3, res.Strikes)
	assert.Equal(t, int64(30_000), res.CooldownMs)
	assert.Equal(t, 3, f.player(t, joined.PlayerID).Strikes)

	penalties, err := f.store.Read().ListPenalties(ctx, "g1", joined.PlayerID)
	require.NoError(t, err)
	require.Len(t, penalties, 4)
	assert.Equal(t, "AUTO_STRIKE", penalties[2].Type)
}

func TestConcurrentWinnersGetDistinctRanks(t *testing.T) {
	const players = 4
	f := newFixture(t)
	ctx := context.Background()
	f.insertGame(t, "g1", "n1", store.GameActive, func(g *store.Game) { g.WinnerLimit = players })

	var joined []*JoinResult
	for i := range players {
		joined = append(joined, f.join(t, "123456", fmt.Sprintf("player-%d", i)))
	}
	all := make([]int, 75)
	for i := range all {
		all[i] = i + 1
	}
	f.drawNumbers(t, "g1", all...)

	ranks := make([]int, players)
	var wg sync.WaitGroup
	for i, j := range joined {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Claim(ctx, ClaimRequest{PlayerID: j.PlayerID, CardID: j.CardID, Pattern: "DIAGONAL_1"})
			if assert.NoError(t, err) && assert.True(t, res.Valid) {
				ranks[i] = res.Rank
			}
		}()
	}
	wg.Wait()

	sort.Ints(ranks)
	assert.Equal(t, []int{1, 2, 3, 4}, ranks)

	winners, err := f.store.Read().ListWinners(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, winners, players)

	g, err := f.store.Read().GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, store.GameCompleted, g.Status)
}

func TestRepeatWinIsDeniedWithoutStrike(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertGame(t, "g1", "n1", store.GameActive, func(g *store.Game) { g.WinnerLimit = 3 })
	joined := f.join(t, "123456", "ana")
	grid := f.card(t, joined.CardID).Grid
	f.drawNumbers(t, "g1", append(row(grid, 0), row(grid, 4)...)...)

	first, err := f.svc.Claim(ctx, ClaimRequest{PlayerID: joined.PlayerID, CardID: joined.CardID, Pattern: "ROW_1"})
	require.NoError(t, err)
	require.True(t, first.Valid)

	again, err := f.svc.Claim(ctx, ClaimRequest{PlayerID: joined.PlayerID, CardID: joined.CardID, Pattern: "ROW_5"})
	require.NoError(t, err)
	assert.False(t, again.Valid)
	assert.Equal(t, ReasonAlreadyWon, again.DenialReason)
	assert.Equal(t, 0, again.Strikes)
}

func TestClaimRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertGame(t, "g1", "n1", store.GameActive)
	ana := f.join(t, "123456", "ana")
	bob := f.join(t, "123456", "bob")

	tests := []struct {
		name string
		req  ClaimRequest
		code apperrors.Code
	}{
		{"unknown pattern", ClaimRequest{PlayerID: ana.PlayerID, CardID: ana.CardID, Pattern: "X"}, apperrors.CodeInvalidPattern},
		{"unknown card", ClaimRequest{PlayerID: ana.PlayerID, CardID: "card_missing", Pattern: "ROW_1"}, apperrors.CodeCardNotFound},
		{"other player's card", ClaimRequest{PlayerID: bob.PlayerID, CardID: ana.CardID, Pattern: "ROW_1"}, apperrors.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Claim(ctx, tt.req)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
	assert.Equal(t, 0, f.player(t, ana.PlayerID).Strikes)
	assert.Equal(t, 0, f.player(t, bob.PlayerID).Strikes)
}

func TestClaimAgainstFinishedGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertGame(t, "g1", "n1", store.GameActive)
	joined := f.join(t, "123456", "ana")

	require.NoError(t, f.store.WithTx(ctx, func(q *store.Queries) error {
		g, err := q.LockGame(ctx, "g1")
		if err != nil {
			return err
		}
		g.Status = store.GameCancelled
		return q.UpdateGame(ctx, g)
	}))

	_, err := f.svc.Claim(ctx, ClaimRequest{PlayerID: joined.PlayerID, CardID: joined.CardID, Pattern: "ROW_1"})
	assert.Equal(t, apperrors.CodeGameNotActive, apperrors.CodeOf(err))
	assert.Equal(t, 0, f.player(t, joined.PlayerID).Strikes)
}

func TestClaimRateLimited(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Rules.Claim.Limit = 1
		c.Rules.Claim.Lockout = 2 * time.Minute
	})
	ctx := context.Background()
	f.insertGame(t, "g1", "n1", store.GameActive)
	joined := f.join(t, "123456", "ana")
	req := ClaimRequest{PlayerID: joined.PlayerID, CardID: joined.CardID, Pattern: "ROW_1"}

	_, err := f.svc.Claim(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, req)
	require.Equal(t, apperrors.CodeRateLimited, apperrors.CodeOf(err))
	appErr, _ := apperrors.As(err)
	assert.Equal(t, "120000", appErr.Metadata["resetMs"])
	assert.NotEmpty(t, appErr.Metadata["lockedUntil"])
}

func TestClaimReplayIsNotRateLimited(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Rules.Claim.Limit = 1
		c.Rules.Claim.Lockout = 2 * time.Minute
	})
	ctx := context.Background()
	f.insertGame(t, "g1", "n1", store.GameActive)
	joined := f.join(t, "123456", "ana")
	req := ClaimRequest{PlayerID: joined.PlayerID, CardID: joined.CardID, Pattern: "ROW_1", IdempotencyKey: "k1"}

	first, err := f.svc.Claim(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.Claim(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	req.IdempotencyKey = "k2"
	_, err = f.svc.Claim(ctx, req)
	assert.Equal(t, apperrors.CodeRateLimited, apperrors.CodeOf(err))
}

func TestFailedValidationDeniesPendingClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertGame(t, "g1", "n1", store.GameActive)
	joined := f.join(t, "123456", "ana")

	db, err := sql.Open("sqlite", f.dsn+"?_pragma=busy_timeout(10000)")
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx, fmt.Sprintf(`CREATE TRIGGER claims_unavailable BEFORE UPDATE ON claims
		WHEN NEW.denial_reason <> '%s'
		BEGIN SELECT RAISE(ABORT, 'claims unavailable'); END`, ReasonValidationFailed))
	require.NoError(t, err)

	req := ClaimRequest{PlayerID: joined.PlayerID, CardID: joined.CardID, Pattern: "ROW_1", IdempotencyKey: "k1"}
	_, err = f.svc.Claim(ctx, req)
	require.Error(t, err)
	assert.Equal(t, 0, f.player(t, joined.PlayerID).Strikes)

	_, err = db.ExecContext(ctx, `DROP TRIGGER claims_unavailable`)
	require.NoError(t, err)

	res, err := f.svc.Claim(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 1, res.Strikes)

	rows, err := db.QueryContext(ctx, `SELECT status, denial_reason FROM claims WHERE game_id = ? ORDER BY denial_reason`, "g1")
	require.NoError(t, err)
	defer rows.Close()
	var got [][2]string
	for rows.Next() {
		var status, reason string
		require.NoError(t, rows.Scan(&status, &reason))
		got = append(got, [2]string{status, reason})
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, [][2]string{
		{string(store.ClaimDenied), ReasonPatternNotSatisfied},
		{string(store.ClaimDenied), ReasonValidationFailed},
	}, got)
}
