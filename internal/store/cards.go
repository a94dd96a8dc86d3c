package store

import (
	"context"
	"fmt"

	"github.com/jellynash/bingo/internal/card"
)

const cardColumns = `id, game_id, player_id, numbers, signature, seed_used, marks, generated_at`

func scanCard(row rowScanner) (*Card, error) {
	var (
		c           Card
		numbers     string
		marks       int64
		generatedAt int64
	)
	if err := row.Scan(&c.ID, &c.GameID, &c.PlayerID, &numbers, &c.Signature, &c.SeedUsed,
		&marks, &generatedAt); err != nil {
		return nil, classify(err)
	}
	grid, err := card.Parse(numbers)
	if err != nil {
		return nil, fmt.Errorf("card %s: %w", c.ID, err)
	}
	c.Grid = grid
	c.Marks = uint32(marks)
	c.GeneratedAt = fromMillis(generatedAt)
	return &c, nil
}

// CreateCard inserts c. A second card for the same player returns ErrConflict.
func (q *Queries) CreateCard(ctx context.Context, c *Card) error {
	_, err := q.exec(ctx, `INSERT INTO cards (`+cardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.GameID, c.PlayerID, c.Grid.Encode(), c.Signature, c.SeedUsed, int64(c.Marks),
		millis(c.GeneratedAt))
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (q *Queries) GetCard(ctx context.Context, id string) (*Card, error) {
	return scanCard(q.queryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id))
}

func (q *Queries) CardByPlayer(ctx context.Context, playerID string) (*Card, error) {
	return scanCard(q.queryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE player_id = ?`, playerID))
}

// UpdateCardMarks stores the player's own marks. They are display state only.
func (q *Queries) UpdateCardMarks(ctx context.Context, id string, marks uint32) error {
	res, err := q.exec(ctx, `UPDATE cards SET marks = ? WHERE id = ?`, int64(marks), id)
	if err != nil {
		return fmt.Errorf("update card marks: %w", err)
	}
	return expectOne(res)
}

func (q *Queries) ListCards(ctx context.Context, gameID string) ([]*Card, error) {
	rows, err := q.query(ctx, `SELECT `+cardColumns+` FROM cards WHERE game_id = ? ORDER BY generated_at, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var out []*Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
