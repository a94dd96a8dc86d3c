package store

import (
	"context"
	"fmt"
)

const drawColumns = `id, game_id, sequence, letter, number, signature, drawn_by, drawn_at`

// InsertDraw appends d to the game's history.
func (q *Queries) InsertDraw(ctx context.Context, d *Draw) error {
	_, err := q.exec(ctx, `INSERT INTO draws (`+drawColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.GameID, d.Sequence, d.Letter, d.Number, d.Signature, d.DrawnBy, millis(d.DrawnAt))
	if err != nil {
		return fmt.Errorf("insert draw: %w", err)
	}
	return nil
}

// ListDraws returns the draw history ordered by sequence.
func (q *Queries) ListDraws(ctx context.Context, gameID string) ([]*Draw, error) {
	rows, err := q.query(ctx, `SELECT `+drawColumns+` FROM draws WHERE game_id = ? ORDER BY sequence`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list draws: %w", err)
	}
	defer rows.Close()

	var out []*Draw
	for rows.Next() {
		var (
			d       Draw
			drawnAt int64
		)
		if err := rows.Scan(&d.ID, &d.GameID, &d.Sequence, &d.Letter, &d.Number, &d.Signature,
			&d.DrawnBy, &drawnAt); err != nil {
			return nil, classify(err)
		}
		d.DrawnAt = fromMillis(drawnAt)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// DrawnNumbers returns the set of numbers drawn so far.
func (q *Queries) DrawnNumbers(ctx context.Context, gameID string) (map[int]bool, error) {
	rows, err := q.query(ctx, `SELECT number FROM draws WHERE game_id = ?`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list drawn numbers: %w", err)
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, classify(err)
		}
		out[n] = true
	}
	return out, rows.Err()
}
