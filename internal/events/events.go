// Package events defines the envelopes published for every authoritative
// game mutation and the brokers that carry them between processes.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event names the kind of an envelope. Every client role shares the same
// vocabulary.
type Event string

const (
	DrawNext    Event = "draw:next"
	ClaimResult Event = "claim:result"
	StateUpdate Event = "state:update"
	MediaCue    Event = "media:cue"
	PlayerJoin  Event = "player:join"
	PlayerLeave Event = "player:leave"
)

func (e Event) String() string {
	return string(e)
}

// Valid reports whether e is part of the vocabulary.
func (e Event) Valid() bool {
	switch e {
	case DrawNext, ClaimResult, StateUpdate, MediaCue, PlayerJoin, PlayerLeave:
		return true
	}
	return false
}

const roomPrefix = "game:"

// Room returns the broadcast group for a game.
func Room(gameID string) string {
	return roomPrefix + gameID
}

// GameID extracts the game from a room name.
func GameID(room string) (string, bool) {
	id, ok := strings.CutPrefix(room, roomPrefix)
	return id, ok && id != ""
}

// Envelope is the wire unit published on the shared channel.
type Envelope struct {
	Room  string          `json:"room"`
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Payload is implemented by every typed event body.
type Payload interface {
	EventName() Event
}

// New wraps payload in an envelope addressed to the game's room.
func New(gameID string, payload Payload) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", payload.EventName(), err)
	}
	return Envelope{Room: Room(gameID), Event: payload.EventName(), Data: data}, nil
}

// Decode returns the typed payload carried by env.
func Decode(env Envelope) (Payload, error) {
	var p Payload
	switch env.Event {
	case DrawNext:
		p = &Draw{}
	case ClaimResult:
		p = &Claim{}
	case StateUpdate:
		p = &Snapshot{}
	case MediaCue:
		p = &Cue{}
	case PlayerJoin:
		p = &Join{}
	case PlayerLeave:
		p = &Leave{}
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}
	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return p, nil
}

// Draw is published after every committed draw.
type Draw struct {
	Seq       int    `json:"seq"`
	Value     int    `json:"value"`
	Letter    string `json:"letter,omitempty"`
	Signature string `json:"signature,omitempty"`
}

func (Draw) EventName() Event { return DrawNext }

// Claim results.
const (
	ResultApproved = "approved"
	ResultDenied   = "denied"
)

// PenaltyInfo is the strike state attached to a denied claim.
type PenaltyInfo struct {
	Strikes    int   `json:"strikes"`
	CooldownMs int64 `json:"cooldownMs"`
}

// Claim is published once a claim has been validated.
type Claim struct {
	CardID   string       `json:"cardId"`
	PlayerID string       `json:"playerId"`
	Nickname string       `json:"nickname"`
	Result   string       `json:"result"`
	Rank     int          `json:"rank,omitempty"`
	Pattern  string       `json:"pattern,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Penalty  *PenaltyInfo `json:"penalty,omitempty"`
}

func (Claim) EventName() Event { return ClaimResult }

type AutoDraw struct {
	Enabled    bool  `json:"enabled"`
	IntervalMs int64 `json:"intervalMs"`
}

type PlayerSummary struct {
	ID           string `json:"id"`
	Nickname     string `json:"nickname"`
	Status       string `json:"status"`
	Strikes      int    `json:"strikes"`
	Disqualified bool   `json:"isDisqualified"`
}

type WinnerSummary struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	Rank     int    `json:"rank"`
	Pattern  string `json:"pattern"`
}

// Snapshot is the full game state. Clients treat it as the truth and every
// other event as a hint.
type Snapshot struct {
	GameID          string          `json:"gameId"`
	Name            string          `json:"name,omitempty"`
	Status          string          `json:"status"`
	CurrentSequence int             `json:"currentSequence"`
	Drawn           []int           `json:"drawnNumbers"`
	AutoDraw        AutoDraw        `json:"autoDraw"`
	WinnerLimit     int             `json:"winnerLimit"`
	Players         []PlayerSummary `json:"players"`
	Winners         []WinnerSummary `json:"winners"`
}

func (Snapshot) EventName() Event { return StateUpdate }

// Connected is sent directly to a socket once its handshake succeeds.
type Connected struct {
	Connected bool   `json:"connected"`
	Namespace string `json:"ns"`
	Role      string `json:"role"`
	Room      string `json:"room"`
}

func (Connected) EventName() Event { return StateUpdate }

// Cue asks displays to play a named media cue.
type Cue struct {
	Cue     string          `json:"cue"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (Cue) EventName() Event { return MediaCue }

type Join struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
}

func (Join) EventName() Event { return PlayerJoin }

type Leave struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname,omitempty"`
}

func (Leave) EventName() Event { return PlayerLeave }
