package store

import (
	"context"
	"database/sql"
	"fmt"
)

const penaltyColumns = `id, game_id, player_id, type, reason, severity, applied_by, applied_at, expires_at`

func (q *Queries) CreatePenalty(ctx context.Context, p *Penalty) error {
	_, err := q.exec(ctx, `INSERT INTO penalties (`+penaltyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.GameID, p.PlayerID, p.Type, p.Reason, p.Severity, p.AppliedBy, millis(p.AppliedAt),
		nullMillis(p.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert penalty: %w", err)
	}
	return nil
}

// ListPenalties returns a player's penalties, oldest first.
func (q *Queries) ListPenalties(ctx context.Context, gameID, playerID string) ([]*Penalty, error) {
	rows, err := q.query(ctx, `SELECT `+penaltyColumns+` FROM penalties
WHERE game_id = ? AND player_id = ? ORDER BY applied_at, id`, gameID, playerID)
	if err != nil {
		return nil, fmt.Errorf("list penalties: %w", err)
	}
	defer rows.Close()

	var out []*Penalty
	for rows.Next() {
		var p Penalty
		var appliedAt int64
		var expiresAt sql.NullInt64
		if err := rows.Scan(&p.ID, &p.GameID, &p.PlayerID, &p.Type, &p.Reason, &p.Severity,
			&p.AppliedBy, &appliedAt, &expiresAt); err != nil {
			return nil, classify(err)
		}
		p.AppliedAt = fromMillis(appliedAt)
		p.ExpiresAt = fromNullMillis(expiresAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}
