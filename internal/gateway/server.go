// Package gateway serves the realtime websocket namespaces and the join and
// resume endpoints, and fans broker events out to game rooms.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/auth"
	"github.com/jellynash/bingo/internal/events"
	"github.com/jellynash/bingo/internal/game"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	leaveTimeout            = 5 * time.Second
)

// Server owns every socket on this process.
type Server struct {
	svc              *game.Service
	validator        auth.Validator
	revocations      auth.RevocationChecker
	subscriber       events.Subscriber
	upgrader         websocket.Upgrader
	hub              *hub
	stats            stats
	logger           *log.Logger
	handshakeTimeout time.Duration
	trustProxy       bool
	wg               sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithHandshakeTimeout bounds how long a socket may wait before sending its token.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// WithCheckOrigin replaces the default allow-all origin policy.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = check
	}
}

// WithTrustProxy takes the client address for join rate limits from
// X-Forwarded-For.
func WithTrustProxy(trust bool) Option {
	return func(s *Server) {
		s.trustProxy = trust
	}
}

// New creates a gateway. Call Run to start receiving broker events.
func New(svc *game.Service, validator auth.Validator, subscriber events.Subscriber, logger *log.Logger, opts ...Option) *Server {
	s := &Server{
		svc:        svc,
		validator:  validator,
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		hub:              newHub(),
		logger:           logger.WithPrefix("gateway"),
		handshakeTimeout: defaultHandshakeTimeout,
	}
	if rc, ok := validator.(auth.RevocationChecker); ok {
		s.revocations = rc
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler routes the websocket namespaces and HTTP endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, ns := range Namespaces() {
		mux.HandleFunc("GET "+string(ns), s.handleWebSocket(ns))
	}
	mux.HandleFunc("POST /join", s.handleJoin)
	mux.HandleFunc("POST /resume", s.handleResume)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Run fans broker events out to rooms until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Subscribing to events")
	err := s.subscriber.Subscribe(ctx, s.dispatch)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Shutdown closes every socket and waits for their cleanup.
func (s *Server) Shutdown() {
	for _, c := range s.hub.connections() {
		_ = c.Close()
	}
	s.wg.Wait()
}

func (s *Server) dispatch(env events.Envelope) {
	s.stats.eventsReceived.Add(1)
	n := s.hub.broadcast(env.Room, eventMessage(env))
	s.stats.eventsEmitted.Add(int64(n))
	s.logger.Debug("Broadcast event", "room", env.Room, "event", env.Event, "recipients", n)
}

func (s *Server) handleWebSocket(ns Namespace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("Failed to upgrade connection", "ns", ns, "error", err)
			return
		}

		id, err := s.authenticate(r, conn, ns)
		if err != nil {
			s.stats.authFailures.Add(1)
			s.logger.Info("Handshake refused", "ns", ns, "error", err)
			s.refuse(conn, err)
			return
		}

		c := newConnection(s, conn, ns, id)
		s.wg.Add(1)
		s.hub.add(c)
		s.stats.connections.Add(1)
		c.logger.Info("Client connected", "room", c.room, "role", id.Role)

		hello, err := events.New(id.GameID, events.Connected{
			Connected: true,
			Namespace: string(ns),
			Role:      string(id.Role),
			Room:      c.room,
		})
		if err == nil {
			_ = c.SendMessage(eventMessage(hello))
		}
		c.start()
	}
}

// authenticate reads the token from the query string or the first frame and
// checks it against the namespace's roles.
func (s *Server) authenticate(r *http.Request, conn *websocket.Conn, ns Namespace) (*auth.Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		_ = conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
		var hs Handshake
		if err := conn.ReadJSON(&hs); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeUnauthorized, "Handshake token required", err)
		}
		_ = conn.SetReadDeadline(time.Time{})
		token = hs.Token
	}

	id, err := s.validator.Validate(r.Context(), token)
	switch {
	case errors.Is(err, auth.ErrUnavailable):
		return nil, apperrors.Wrap(apperrors.CodeUnavailable, "Token check unavailable", err)
	case err != nil:
		return nil, apperrors.Wrap(apperrors.CodeUnauthorized, "Invalid token", err)
	}
	if id.GameID == "" {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "Token carries no game")
	}
	if !ns.admits(id.Role) {
		return nil, apperrors.New(apperrors.CodeForbidden, "Role "+string(id.Role)+" not allowed on "+string(ns))
	}
	return id, nil
}

func (s *Server) refuse(conn *websocket.Conn, err error) {
	deadline := time.Now().Add(writeWait)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(errorMessage("", err))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(apperrors.CodeOf(err))), deadline)
	_ = conn.Close()
}

// release unregisters a socket once its read pump has exited. A player's
// disconnect is announced to the room.
func (s *Server) release(c *Connection) {
	defer s.wg.Done()
	if !s.hub.remove(c) {
		return
	}
	s.stats.disconnections.Add(1)
	c.logger.Info("Client disconnected", "room", c.room)

	if c.identity.Role != auth.RolePlayer {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := s.svc.Leave(ctx, c.identity.GameID, c.identity.Subject); err != nil {
		c.logger.Warn("Failed to record leave", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
