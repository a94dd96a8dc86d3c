package store

import (
	"time"

	"github.com/jellynash/bingo/internal/card"
)

type GameStatus string

const (
	GameLobby     GameStatus = "LOBBY"
	GameOpen      GameStatus = "OPEN"
	GameActive    GameStatus = "ACTIVE"
	GamePaused    GameStatus = "PAUSED"
	GameCompleted GameStatus = "COMPLETED"
	GameCancelled GameStatus = "CANCELLED"
)

// Finished reports whether no further draws or claims are possible.
func (s GameStatus) Finished() bool {
	return s == GameCompleted || s == GameCancelled
}

type PlayerStatus string

const (
	PlayerActive       PlayerStatus = "ACTIVE"
	PlayerCooldown     PlayerStatus = "COOLDOWN"
	PlayerDisqualified PlayerStatus = "DISQUALIFIED"
	PlayerLeft         PlayerStatus = "LEFT"
)

type ClaimStatus string

const (
	ClaimPending    ClaimStatus = "PENDING"
	ClaimAccepted   ClaimStatus = "ACCEPTED"
	ClaimDenied     ClaimStatus = "DENIED"
	ClaimSuperseded ClaimStatus = "SUPERSEDED"
)

// Game is the authoritative per-game row. Seed, Nonce, Signature and Deck
// are fixed at creation.
type Game struct {
	ID               string
	Pin              string
	Name             string
	Status           GameStatus
	MaxPlayers       int
	AllowLateJoin    bool
	AutoDrawEnabled  bool
	AutoDrawInterval time.Duration
	WinnerLimit      int
	CurrentSequence  int
	Seed             string
	Nonce            string
	Signature        string
	Deck             string
	CreatedBy        string
	CreatedAt        time.Time
	StartedAt        *time.Time
	PausedAt         *time.Time
	CompletedAt      *time.Time
	LastDrawAt       *time.Time
}

type Player struct {
	ID            string
	GameID        string
	Nickname      string
	Status        PlayerStatus
	Strikes       int
	CooldownUntil *time.Time
	Disqualified  bool
	JoinedAt      time.Time
	LastSeenAt    time.Time
}

type Card struct {
	ID          string
	GameID      string
	PlayerID    string
	Grid        card.Grid
	Signature   string
	SeedUsed    string
	Marks       uint32
	GeneratedAt time.Time
}

type Draw struct {
	ID        string
	GameID    string
	Sequence  int
	Letter    string
	Number    int
	Signature string
	DrawnBy   string
	DrawnAt   time.Time
}

type Claim struct {
	ID           string
	GameID       string
	PlayerID     string
	CardID       string
	Pattern      string
	Status       ClaimStatus
	IsWinner     bool
	WinPosition  int
	DenialReason string
	CreatedAt    time.Time
	ValidatedAt  *time.Time
}

type Penalty struct {
	ID        string
	GameID    string
	PlayerID  string
	Type      string
	Reason    string
	Severity  int
	AppliedBy string
	AppliedAt time.Time
	ExpiresAt *time.Time
}

type Session struct {
	ID              string
	GameID          string
	PlayerID        string
	Role            string
	ResumeTokenHash string
	SessionTokenID  string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	LastSeenAt      time.Time
}

// Winner is an accepted claim joined with its player, ordered by rank.
type Winner struct {
	PlayerID string
	Nickname string
	Rank     int
	Pattern  string
	ClaimID  string
}
