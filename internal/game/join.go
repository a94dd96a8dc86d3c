package game

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/auth"
	"github.com/jellynash/bingo/internal/card"
	"github.com/jellynash/bingo/internal/events"
	"github.com/jellynash/bingo/internal/idempotency"
	"github.com/jellynash/bingo/internal/ratelimit"
	"github.com/jellynash/bingo/internal/store"
	"github.com/jellynash/bingo/internal/typeid"
)

var (
	pinPattern      = regexp.MustCompile(`^\d{6}$`)
	nicknamePattern = regexp.MustCompile(`^[A-Za-z0-9_\- ]{1,50}$`)
)

// JoinRequest is a player's request to enter a game by PIN.
type JoinRequest struct {
	Pin            string
	Nickname       string
	IdempotencyKey string
	ClientIP       string
}

// CardView is a card as shown to its owner.
type CardView struct {
	ID        string `json:"id"`
	Grid      []int  `json:"grid"`
	Signature string `json:"signature"`
	Marks     []int  `json:"marks"`
}

// JoinResult is returned to a joining player.
type JoinResult struct {
	GameID       string           `json:"gameId"`
	PlayerID     string           `json:"playerId"`
	CardID       string           `json:"cardId"`
	Card         CardView         `json:"card"`
	SessionToken string           `json:"sessionToken"`
	ResumeToken  string           `json:"resumeToken"`
	Snapshot     *events.Snapshot `json:"snapshot"`
}

// Join admits a player, deals their card and opens a resumable session.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	req.Nickname = strings.TrimSpace(req.Nickname)
	if !pinPattern.MatchString(req.Pin) {
		return nil, apperrors.New(apperrors.CodeInvalidPin, "PIN must be 6 digits")
	}
	if !nicknamePattern.MatchString(req.Nickname) {
		return nil, apperrors.New(apperrors.CodeInvalidNickname,
			"Nickname must be 1-50 letters, digits, spaces, dashes or underscores")
	}

	key := idempotency.Scope("join", req.ClientIP, req.IdempotencyKey)
	res, _, err := idempotency.Do(ctx, s.idempotency, key, func() (*JoinResult, error) {
		if err := ratelimit.Enforce(ctx, s.limiter, ratelimit.Key("join", req.ClientIP), s.cfg.Rules.Join); err != nil {
			return nil, err
		}
		return s.join(ctx, req)
	})
	return res, err
}

func (s *Service) join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	resumeToken, err := newResumeToken()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "generate resume token", err)
	}

	var (
		player  *store.Player
		crd     *store.Card
		session string
	)
	err = s.store.WithTx(ctx, func(q *store.Queries) error {
		found, err := q.GameByPin(ctx, req.Pin)
		if err != nil {
			return notFound(err, apperrors.CodeGameNotFound, "Game not found")
		}
		g, err := lockGame(ctx, q, found.ID)
		if err != nil {
			return err
		}
		if !joinable(g) {
			return apperrors.New(apperrors.CodeGameNotJoinable, "Game is not accepting players")
		}
		count, err := q.CountPlayers(ctx, g.ID)
		if err != nil {
			return err
		}
		if count >= g.MaxPlayers {
			return apperrors.New(apperrors.CodeGameFull, "Game is full")
		}
		if _, err := q.PlayerByNickname(ctx, g.ID, req.Nickname); err == nil {
			return apperrors.New(apperrors.CodeNicknameTaken, "Nickname already taken")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := s.now()
		player = &store.Player{
			ID:         s.ids.New(typeid.Player),
			GameID:     g.ID,
			Nickname:   req.Nickname,
			Status:     store.PlayerActive,
			JoinedAt:   now,
			LastSeenAt: now,
		}
		if err := q.CreatePlayer(ctx, player); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperrors.New(apperrors.CodeNicknameTaken, "Nickname already taken")
			}
			return err
		}

		crd, err = s.ensureCard(ctx, q, g, player.ID)
		if err != nil {
			return err
		}

		token, id, err := s.tokens.Issue(player.ID, auth.RolePlayer, g.ID, s.cfg.SessionTTL)
		if err != nil {
			return err
		}
		session = token
		return q.CreateSession(ctx, &store.Session{
			ID:              s.ids.New(typeid.Session),
			GameID:          g.ID,
			PlayerID:        player.ID,
			Role:            string(auth.RolePlayer),
			ResumeTokenHash: hashToken(resumeToken),
			SessionTokenID:  id.TokenID,
			CreatedAt:       now,
			ExpiresAt:       id.ExpiresAt,
			LastSeenAt:      now,
		})
	})
	if err != nil {
		return nil, storeErr("join", err)
	}

	s.logger.Info("Player joined", "game", player.GameID, "player", player.ID, "nickname", player.Nickname)
	s.publishState(ctx, player.GameID, events.Join{PlayerID: player.ID, Nickname: player.Nickname})

	snap, err := s.Snapshot(ctx, player.GameID)
	if err != nil {
		return nil, err
	}
	return &JoinResult{
		GameID:       player.GameID,
		PlayerID:     player.ID,
		CardID:       crd.ID,
		Card:         cardView(crd),
		SessionToken: session,
		ResumeToken:  resumeToken,
		Snapshot:     snap,
	}, nil
}

func joinable(g *store.Game) bool {
	switch g.Status {
	case store.GameLobby, store.GameOpen:
		return true
	case store.GameActive:
		return g.AllowLateJoin
	}
	return false
}

// ensureCard returns the player's card, dealing it on first request. The
// layout is a pure function of the game seed and player, and an existing
// card is never regenerated.
func (s *Service) ensureCard(ctx context.Context, q *store.Queries, g *store.Game, playerID string) (*store.Card, error) {
	existing, err := q.CardByPlayer(ctx, playerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	dealt, err := card.ForPlayer(s.cfg.SeedSecret, g.Seed, g.ID, playerID)
	if err != nil {
		return nil, err
	}
	c := &store.Card{
		ID:          s.ids.New(typeid.Card),
		GameID:      g.ID,
		PlayerID:    playerID,
		Grid:        dealt.Grid,
		Signature:   dealt.Signature,
		SeedUsed:    dealt.SeedUsed,
		Marks:       uint32(freeMarks),
		GeneratedAt: s.now(),
	}
	if err := q.CreateCard(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ResumeResult restores a player's session after a reconnect.
type ResumeResult struct {
	GameID       string           `json:"gameId"`
	PlayerID     string           `json:"playerId"`
	CardID       string           `json:"cardId"`
	Card         CardView         `json:"card"`
	SessionToken string           `json:"sessionToken"`
	Drawn        []int            `json:"drawnNumbers"`
	Snapshot     *events.Snapshot `json:"snapshot"`
}

// Resume exchanges a resume token for a fresh session token. The previous
// session token is revoked.
func (s *Service) Resume(ctx context.Context, resumeToken string) (*ResumeResult, error) {
	if resumeToken == "" {
		return nil, apperrors.New(apperrors.CodeSessionNotFound, "Session not found")
	}

	var (
		sess  *store.Session
		crd   *store.Card
		token string
		oldID string
	)
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		sess, err = q.SessionByResumeHash(ctx, hashToken(resumeToken))
		if err != nil {
			return notFound(err, apperrors.CodeSessionNotFound, "Session not found")
		}
		if _, err := lockGame(ctx, q, sess.GameID); err != nil {
			return err
		}
		crd, err = q.CardByPlayer(ctx, sess.PlayerID)
		if err != nil {
			return notFound(err, apperrors.CodeCardNotFound, "Card not found")
		}

		var id *auth.Identity
		token, id, err = s.tokens.Issue(sess.PlayerID, auth.RolePlayer, sess.GameID, s.cfg.SessionTTL)
		if err != nil {
			return err
		}
		oldID = sess.SessionTokenID
		if err := q.RotateSessionToken(ctx, sess.ID, id.TokenID, id.ExpiresAt, s.now()); err != nil {
			return err
		}

		p, err := q.GetPlayer(ctx, sess.PlayerID)
		if err != nil {
			return notFound(err, apperrors.CodePlayerNotFound, "Player not found")
		}
		p.LastSeenAt = s.now()
		return q.UpdatePlayer(ctx, p)
	})
	if err != nil {
		return nil, storeErr("resume", err)
	}

	if err := s.tokens.Revoke(ctx, &auth.Identity{TokenID: oldID, ExpiresAt: sess.ExpiresAt}); err != nil {
		s.logger.Warn("Failed to revoke previous session token", "player", sess.PlayerID, "error", err)
	}

	snap, err := s.Snapshot(ctx, sess.GameID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Session resumed", "game", sess.GameID, "player", sess.PlayerID)
	return &ResumeResult{
		GameID:       sess.GameID,
		PlayerID:     sess.PlayerID,
		CardID:       crd.ID,
		Card:         cardView(crd),
		SessionToken: token,
		Drawn:        snap.Drawn,
		Snapshot:     snap,
	}, nil
}

// Leave records a player's disconnect and announces it to the room. The
// player keeps their seat and may resume.
func (s *Service) Leave(ctx context.Context, gameID, playerID string) error {
	var nickname string
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		if _, err := lockGame(ctx, q, gameID); err != nil {
			return err
		}
		p, err := q.GetPlayer(ctx, playerID)
		if err != nil || p.GameID != gameID {
			return notFound(orNotFound(err), apperrors.CodePlayerNotFound, "Player not found")
		}
		nickname = p.Nickname
		p.LastSeenAt = s.now()
		return q.UpdatePlayer(ctx, p)
	})
	if err != nil {
		return storeErr("leave", err)
	}
	s.notify.publish(ctx, gameID, events.Leave{PlayerID: playerID, Nickname: nickname})
	return nil
}

func cardView(c *store.Card) CardView {
	return CardView{
		ID:        c.ID,
		Grid:      c.Grid[:],
		Signature: c.Signature,
		Marks:     markMask(c.Marks).Positions(),
	}
}

func newResumeToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
