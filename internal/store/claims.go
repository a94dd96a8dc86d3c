package store

import (
	"context"
	"database/sql"
	"fmt"
)

const claimColumns = `id, game_id, player_id, card_id, pattern, status, is_winner, win_position,
denial_reason, created_at, validated_at`

func scanClaim(row rowScanner) (*Claim, error) {
	var c Claim
	var status string
	var isWinner int
	var winPosition, validatedAt sql.NullInt64
	var createdAt int64
	if err := row.Scan(&c.ID, &c.GameID, &c.PlayerID, &c.CardID, &c.Pattern, &status, &isWinner,
		&winPosition, &c.DenialReason, &createdAt, &validatedAt); err != nil {
		return nil, classify(err)
	}
	c.Status = ClaimStatus(status)
	c.IsWinner = isWinner != 0
	c.WinPosition = int(winPosition.Int64)
	c.CreatedAt = fromMillis(createdAt)
	c.ValidatedAt = fromNullMillis(validatedAt)
	return &c, nil
}

func nullPosition(pos int) sql.NullInt64 {
	if pos <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(pos), Valid: true}
}

func (q *Queries) CreateClaim(ctx context.Context, c *Claim) error {
	_, err := q.exec(ctx, `INSERT INTO claims (`+claimColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.GameID, c.PlayerID, c.CardID, c.Pattern, string(c.Status), boolInt(c.IsWinner),
		nullPosition(c.WinPosition), c.DenialReason, millis(c.CreatedAt), nullMillis(c.ValidatedAt))
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (q *Queries) GetClaim(ctx context.Context, id string) (*Claim, error) {
	return scanClaim(q.queryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = ?`, id))
}

// UpdateClaim records the validation outcome of c.
func (q *Queries) UpdateClaim(ctx context.Context, c *Claim) error {
	res, err := q.exec(ctx, `
UPDATE claims SET status = ?, is_winner = ?, win_position = ?, denial_reason = ?, validated_at = ?
WHERE id = ?`,
		string(c.Status), boolInt(c.IsWinner), nullPosition(c.WinPosition), c.DenialReason,
		nullMillis(c.ValidatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	return expectOne(res)
}

// CountAcceptedClaims counts winners so far. Callers must hold the game lock.
func (q *Queries) CountAcceptedClaims(ctx context.Context, gameID string) (int, error) {
	var n int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM claims WHERE game_id = ? AND status = ?`,
		gameID, string(ClaimAccepted)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count accepted claims: %w", err)
	}
	return n, nil
}

// AcceptedClaimFor returns the player's winning claim, or ErrNotFound.
func (q *Queries) AcceptedClaimFor(ctx context.Context, gameID, playerID string) (*Claim, error) {
	return scanClaim(q.queryRow(ctx, `SELECT `+claimColumns+` FROM claims
WHERE game_id = ? AND player_id = ? AND status = ?`, gameID, playerID, string(ClaimAccepted)))
}

// ListWinners returns accepted claims ordered by rank.
func (q *Queries) ListWinners(ctx context.Context, gameID string) ([]Winner, error) {
	rows, err := q.query(ctx, `
SELECT c.player_id, p.nickname, c.win_position, c.pattern, c.id
FROM claims c JOIN players p ON p.id = c.player_id
WHERE c.game_id = ? AND c.status = ?
ORDER BY c.win_position`, gameID, string(ClaimAccepted))
	if err != nil {
		return nil, fmt.Errorf("list winners: %w", err)
	}
	defer rows.Close()

	out := []Winner{}
	for rows.Next() {
		var w Winner
		if err := rows.Scan(&w.PlayerID, &w.Nickname, &w.Rank, &w.Pattern, &w.ClaimID); err != nil {
			return nil, classify(err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
