package store

import (
	"context"
	"database/sql"
	"fmt"
)

const playerColumns = `id, game_id, nickname, status, strikes, cooldown_until, is_disqualified, joined_at, last_seen_at`

func scanPlayer(row rowScanner) (*Player, error) {
	var (
		p                  Player
		status             string
		cooldown           sql.NullInt64
		disqualified       int
		joinedAt, lastSeen int64
	)
	if err := row.Scan(&p.ID, &p.GameID, &p.Nickname, &status, &p.Strikes, &cooldown,
		&disqualified, &joinedAt, &lastSeen); err != nil {
		return nil, classify(err)
	}
	p.Status = PlayerStatus(status)
	p.CooldownUntil = fromNullMillis(cooldown)
	p.Disqualified = disqualified != 0
	p.JoinedAt = fromMillis(joinedAt)
	p.LastSeenAt = fromMillis(lastSeen)
	return &p, nil
}

// CreatePlayer inserts p. A taken nickname returns ErrConflict.
func (q *Queries) CreatePlayer(ctx context.Context, p *Player) error {
	_, err := q.exec(ctx, `INSERT INTO players (`+playerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.GameID, p.Nickname, string(p.Status), p.Strikes, nullMillis(p.CooldownUntil),
		boolInt(p.Disqualified), millis(p.JoinedAt), millis(p.LastSeenAt))
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func (q *Queries) GetPlayer(ctx context.Context, id string) (*Player, error) {
	return scanPlayer(q.queryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, id))
}

func (q *Queries) PlayerByNickname(ctx context.Context, gameID, nickname string) (*Player, error) {
	return scanPlayer(q.queryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE game_id = ? AND nickname = ?`,
		gameID, nickname))
}

// CountPlayers counts players in a game that have not left.
func (q *Queries) CountPlayers(ctx context.Context, gameID string) (int, error) {
	var n int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM players WHERE game_id = ? AND status <> ?`,
		gameID, string(PlayerLeft)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	return n, nil
}

// UpdatePlayer writes the penalty and presence columns of p.
func (q *Queries) UpdatePlayer(ctx context.Context, p *Player) error {
	res, err := q.exec(ctx, `
UPDATE players SET status = ?, strikes = ?, cooldown_until = ?, is_disqualified = ?, last_seen_at = ?
WHERE id = ?`,
		string(p.Status), p.Strikes, nullMillis(p.CooldownUntil), boolInt(p.Disqualified),
		millis(p.LastSeenAt), p.ID)
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	return expectOne(res)
}

// ListPlayers returns a game's players in join order.
func (q *Queries) ListPlayers(ctx context.Context, gameID string) ([]*Player, error) {
	rows, err := q.query(ctx, `SELECT `+playerColumns+` FROM players WHERE game_id = ? ORDER BY joined_at, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	var out []*Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
