package gateway

import (
	"encoding/json"
	"errors"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/events"
)

// MessageType names a websocket frame.
type MessageType string

const (
	// Client to server commands
	TypeMark     MessageType = "mark"
	TypeClaim    MessageType = "claim"
	TypeSnapshot MessageType = "snapshot"
	TypeDraw     MessageType = "draw"
	TypeOpen     MessageType = "open"
	TypePause    MessageType = "pause"
	TypeAutoDraw MessageType = "auto_draw"
	TypePenalty  MessageType = "penalty"
	TypeMediaCue MessageType = "media_cue"

	// Server to client frames
	TypeEvent MessageType = "event"
	TypeAck   MessageType = "ack"
	TypeError MessageType = "error"
)

func (mt MessageType) String() string {
	return string(mt)
}

// Message is the frame exchanged once a socket is authenticated.
type Message struct {
	Type      MessageType     `json:"type"`
	Event     events.Event    `json:"event,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorData      `json:"error,omitempty"`
}

// Handshake is the first frame a client sends when it did not pass a
// token on the query string.
type Handshake struct {
	Token string `json:"token"`
}

type ErrorData struct {
	Code     apperrors.Code    `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type MarkData struct {
	CardID         string `json:"cardId"`
	Position       int    `json:"position"`
	Marked         bool   `json:"marked"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type ClaimData struct {
	CardID         string `json:"cardId"`
	Pattern        string `json:"pattern"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type AutoDrawData struct {
	Enabled    bool  `json:"enabled"`
	IntervalMs int64 `json:"intervalMs,omitempty"`
}

type PenaltyData struct {
	PlayerID string `json:"playerId"`
	Type     string `json:"type,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type CueData struct {
	Cue     string          `json:"cue"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// GameState is the ack body for host lifecycle commands.
type GameState struct {
	GameID   string          `json:"gameId"`
	Status   string          `json:"status"`
	AutoDraw events.AutoDraw `json:"autoDraw"`
}

func eventMessage(env events.Envelope) *Message {
	return &Message{Type: TypeEvent, Event: env.Event, Data: env.Data}
}

func ackMessage(requestID string, data any) (*Message, error) {
	msg := &Message{Type: TypeAck, RequestID: requestID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return msg, nil
}

func errorMessage(requestID string, err error) *Message {
	return &Message{Type: TypeError, RequestID: requestID, Error: errorData(err)}
}

// errorData exposes coded errors as they are and hides everything else.
func errorData(err error) *ErrorData {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return &ErrorData{Code: appErr.Code, Message: appErr.Message, Metadata: appErr.Metadata}
	}
	return &ErrorData{Code: apperrors.CodeInternal, Message: "Internal error"}
}
