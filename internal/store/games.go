package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const gameColumns = `id, pin, name, status, max_players, allow_late_join, auto_draw_enabled,
auto_draw_interval_ms, winner_limit, current_sequence, rng_seed, nonce, game_signature, deck,
created_by, created_at, started_at, paused_at, completed_at, last_draw_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*Game, error) {
	var g Game
	var status string
	var lateJoin, autoDraw int
	var intervalMs, createdAt int64
	var startedAt, pausedAt, completedAt, lastDraw sql.NullInt64
	err := row.Scan(&g.ID, &g.Pin, &g.Name, &status, &g.MaxPlayers, &lateJoin, &autoDraw,
		&intervalMs, &g.WinnerLimit, &g.CurrentSequence, &g.Seed, &g.Nonce, &g.Signature, &g.Deck,
		&g.CreatedBy, &createdAt, &startedAt, &pausedAt, &completedAt, &lastDraw)
	if err != nil {
		return nil, classify(err)
	}
	g.Status = GameStatus(status)
	g.AllowLateJoin = lateJoin != 0
	g.AutoDrawEnabled = autoDraw != 0
	g.AutoDrawInterval = time.Duration(intervalMs) * time.Millisecond
	g.CreatedAt = fromMillis(createdAt)
	g.StartedAt = fromNullMillis(startedAt)
	g.PausedAt = fromNullMillis(pausedAt)
	g.CompletedAt = fromNullMillis(completedAt)
	g.LastDrawAt = fromNullMillis(lastDraw)
	return &g, nil
}

// CreateGame inserts g. A duplicate PIN returns ErrConflict.
func (q *Queries) CreateGame(ctx context.Context, g *Game) error {
	_, err := q.exec(ctx, `
INSERT INTO games (`+gameColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Pin, g.Name, string(g.Status), g.MaxPlayers, boolInt(g.AllowLateJoin), boolInt(g.AutoDrawEnabled),
		g.AutoDrawInterval.Milliseconds(), g.WinnerLimit, g.CurrentSequence, g.Seed, g.Nonce, g.Signature, g.Deck,
		g.CreatedBy, millis(g.CreatedAt), nullMillis(g.StartedAt), nullMillis(g.PausedAt),
		nullMillis(g.CompletedAt), nullMillis(g.LastDrawAt))
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

// GetGame loads a game without locking it.
func (q *Queries) GetGame(ctx context.Context, id string) (*Game, error) {
	return scanGame(q.queryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`, id))
}

// LockGame loads a game and holds its row lock until the transaction ends.
func (q *Queries) LockGame(ctx context.Context, id string) (*Game, error) {
	return scanGame(q.queryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`+q.forUpdate(), id))
}

// GameByPin loads a game by its join PIN.
func (q *Queries) GameByPin(ctx context.Context, pin string) (*Game, error) {
	return scanGame(q.queryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE pin = ?`, pin))
}

// UpdateGame writes the mutable columns of g.
func (q *Queries) UpdateGame(ctx context.Context, g *Game) error {
	res, err := q.exec(ctx, `
UPDATE games SET
  status = ?,
  auto_draw_enabled = ?,
  auto_draw_interval_ms = ?,
  current_sequence = ?,
  started_at = ?,
  paused_at = ?,
  completed_at = ?,
  last_draw_at = ?
WHERE id = ?`,
		string(g.Status), boolInt(g.AutoDrawEnabled), g.AutoDrawInterval.Milliseconds(), g.CurrentSequence,
		nullMillis(g.StartedAt), nullMillis(g.PausedAt), nullMillis(g.CompletedAt), nullMillis(g.LastDrawAt),
		g.ID)
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}
	return expectOne(res)
}

// ListAutoDrawGames returns unfinished games with auto-draw switched on.
func (q *Queries) ListAutoDrawGames(ctx context.Context) ([]*Game, error) {
	rows, err := q.query(ctx, `SELECT `+gameColumns+` FROM games
WHERE auto_draw_enabled = 1 AND status IN (?, ?, ?) ORDER BY created_at`,
		string(GameOpen), string(GameActive), string(GamePaused))
	if err != nil {
		return nil, fmt.Errorf("list auto-draw games: %w", err)
	}
	defer rows.Close()

	var out []*Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
