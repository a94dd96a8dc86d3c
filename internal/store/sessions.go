package store

import (
	"context"
	"fmt"
	"time"
)

const sessionColumns = `id, game_id, player_id, role, resume_token_hash, session_token_id, created_at,
expires_at, last_seen_at`

func (q *Queries) CreateSession(ctx context.Context, s *Session) error {
	_, err := q.exec(ctx, `INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.GameID, s.PlayerID, s.Role, s.ResumeTokenHash, s.SessionTokenID, millis(s.CreatedAt),
		millis(s.ExpiresAt), millis(s.LastSeenAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SessionByResumeHash finds the session owning a hashed resume token.
func (q *Queries) SessionByResumeHash(ctx context.Context, hash string) (*Session, error) {
	var s Session
	var createdAt, expiresAt, lastSeen int64
	err := q.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE resume_token_hash = ?`, hash).Scan(
		&s.ID, &s.GameID, &s.PlayerID, &s.Role, &s.ResumeTokenHash, &s.SessionTokenID,
		&createdAt, &expiresAt, &lastSeen)
	if err != nil {
		return nil, classify(err)
	}
	s.CreatedAt = fromMillis(createdAt)
	s.ExpiresAt = fromMillis(expiresAt)
	s.LastSeenAt = fromMillis(lastSeen)
	return &s, nil
}

// RotateSessionToken records a newly issued session token.
func (q *Queries) RotateSessionToken(ctx context.Context, id, tokenID string, expiresAt, now time.Time) error {
	res, err := q.exec(ctx, `UPDATE sessions SET session_token_id = ?, expires_at = ?, last_seen_at = ? WHERE id = ?`,
		tokenID, millis(expiresAt), millis(now), id)
	if err != nil {
		return fmt.Errorf("rotate session token: %w", err)
	}
	return expectOne(res)
}
