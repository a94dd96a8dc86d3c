package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/auth"
	"github.com/jellynash/bingo/internal/events"
	"github.com/jellynash/bingo/internal/game"
	"github.com/jellynash/bingo/internal/idempotency"
	"github.com/jellynash/bingo/internal/ratelimit"
	"github.com/jellynash/bingo/internal/store"
)

type fixture struct {
	svc    *game.Service
	tokens *auth.Tokens
	gw     *Server
	srv    *httptest.Server
	game   *store.Game
}

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()
	clock := quartz.NewMock(t)

	st, err := store.Open(ctx, store.Options{
		Driver: store.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "bingo.db"),
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := game.DefaultConfig()
	cfg.SeedSecret = "seed-secret"
	broker := events.NewMemoryBroker()
	tokens := auth.NewTokens("jwt-secret", clock, auth.NewMemoryRevocations(clock, 100))
	svc, err := game.New(cfg, game.Deps{
		Store:       st,
		Publisher:   broker,
		Limiter:     ratelimit.NewMemoryLimiter(clock),
		Idempotency: idempotency.NewCache(idempotency.NewMemoryStore(clock), 0, logger),
		Tokens:      tokens,
		Clock:       clock,
		Logger:      logger,
	})
	require.NoError(t, err)

	g, err := svc.CreateGame(ctx, game.CreateOptions{Name: "Friday", CreatedBy: "host-1"})
	require.NoError(t, err)
	g, err = svc.OpenGame(ctx, g.ID)
	require.NoError(t, err)

	gw := New(svc, tokens, broker, logger, WithHandshakeTimeout(time.Second))
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = gw.Run(runCtx)
	}()
	require.Eventually(t, func() bool { return broker.Subscribers() == 1 }, time.Second, time.Millisecond)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		gw.Shutdown()
		srv.Close()
		cancel()
		<-done
		svc.AutoDraw().Shutdown()
	})
	return &fixture{svc: svc, tokens: tokens, gw: gw, srv: srv, game: g}
}

func (f *fixture) token(t *testing.T, subject string, role auth.Role) string {
	t.Helper()
	tok, _, err := f.tokens.Issue(subject, role, f.game.ID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) join(t *testing.T, nickname string) *game.JoinResult {
	t.Helper()
	res, err := f.svc.Join(context.Background(), game.JoinRequest{Pin: f.game.Pin, Nickname: nickname, ClientIP: "10.1.1.1"})
	require.NoError(t, err)
	return res
}

func (f *fixture) dial(t *testing.T, ns Namespace, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + string(ns)
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect dials and consumes the connected frame.
func (f *fixture) connect(t *testing.T, ns Namespace, token string) *websocket.Conn {
	t.Helper()
	conn := f.dial(t, ns, token)
	msg := readMessage(t, conn)
	require.Equal(t, TypeEvent, msg.Type)
	require.Equal(t, events.StateUpdate, msg.Event)
	return conn
}

func (f *fixture) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(Message) bool) Message {
	t.Helper()
	for {
		msg := readMessage(t, conn)
		if match(msg) {
			return msg
		}
	}
}

func isEvent(name events.Event) func(Message) bool {
	return func(m Message) bool { return m.Type == TypeEvent && m.Event == name }
}

func isReply(requestID string) func(Message) bool {
	return func(m Message) bool { return m.RequestID == requestID && m.Type != TypeEvent }
}

func send(t *testing.T, conn *websocket.Conn, typ MessageType, requestID string, data any) {
	t.Helper()
	msg := Message{Type: typ, RequestID: requestID}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		msg.Data = raw
	}
	require.NoError(t, conn.WriteJSON(msg))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, "ok", stats.Status)
	assert.Zero(t, stats.Connections)
}

func TestConnectedFrame(t *testing.T) {
	f := newFixture(t)
	joined := f.join(t, "ana")

	conn := f.dial(t, NamespacePlayer, joined.SessionToken)
	msg := readMessage(t, conn)
	assert.Equal(t, TypeEvent, msg.Type)
	assert.Equal(t, events.StateUpdate, msg.Event)
	assert.JSONEq(t, `{"connected":true,"ns":"/player","role":"player","room":"game:`+f.game.ID+`"}`, string(msg.Data))
	assert.Equal(t, int64(1), f.gw.Stats().Connections)
}

func TestHandshakeFromFirstFrame(t *testing.T) {
	f := newFixture(t)

	conn := f.dial(t, NamespaceScreen, "")
	require.NoError(t, conn.WriteJSON(Handshake{Token: f.token(t, "screen-1", auth.RoleScreen)}))
	msg := readMessage(t, conn)
	assert.Equal(t, events.StateUpdate, msg.Event)
	assert.Contains(t, string(msg.Data), `"role":"screen"`)
}

func TestHandshakeRefused(t *testing.T) {
	f := newFixture(t)
	joined := f.join(t, "ana")

	revoked := f.token(t, "screen-2", auth.RoleScreen)
	id, err := f.tokens.Validate(context.Background(), revoked)
	require.NoError(t, err)
	require.NoError(t, f.tokens.Revoke(context.Background(), id))

	noGame, _, err := f.tokens.Issue("host-2", auth.RoleHost, "", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		ns    Namespace
		token string
		code  apperrors.Code
	}{
		{"garbage token", NamespacePlayer, "nope", apperrors.CodeUnauthorized},
		{"player on console", NamespaceConsole, joined.SessionToken, apperrors.CodeForbidden},
		{"host on screen", NamespaceScreen, f.token(t, "host-1", auth.RoleHost), apperrors.CodeForbidden},
		{"revoked", NamespaceScreen, revoked, apperrors.CodeUnauthorized},
		{"no game", NamespaceConsole, noGame, apperrors.CodeUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := f.dial(t, tt.ns, tt.token)
			msg := readMessage(t, conn)
			require.Equal(t, TypeError, msg.Type)
			assert.Equal(t, tt.code, msg.Error.Code)

			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			_, _, err := conn.ReadMessage()
			assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
		})
	}
	assert.Equal(t, int64(len(tests)), f.gw.Stats().AuthFailures)
	assert.Zero(t, f.gw.Stats().Connections)
}

func TestHandshakeTimeout(t *testing.T) {
	f := newFixture(t)

	conn := f.dial(t, NamespacePlayer, "")
	msg := readMessage(t, conn)
	require.Equal(t, TypeError, msg.Type)
	assert.Equal(t, apperrors.CodeUnauthorized, msg.Error.Code)
}

func TestDrawsFanOutToRoom(t *testing.T) {
	f := newFixture(t)
	joined := f.join(t, "ana")
	player := f.connect(t, NamespacePlayer, joined.SessionToken)
	screen := f.connect(t, NamespaceScreen, f.token(t, "screen-1", auth.RoleScreen))
	host := f.connect(t, NamespaceConsole, f.token(t, "host-1", auth.RoleHost))

	// The host may see draw:next before its own ack.
	send(t, host, TypeDraw, "r1", nil)
	ack := readUntil(t, host, isReply("r1"))
	require.Equal(t, TypeAck, ack.Type)
	var draw game.DrawResult
	require.NoError(t, json.Unmarshal(ack.Data, &draw))
	assert.Equal(t, 1, draw.Sequence)

	for _, conn := range []*websocket.Conn{player, screen} {
		msg := readUntil(t, conn, isEvent(events.DrawNext))
		var d events.Draw
		require.NoError(t, json.Unmarshal(msg.Data, &d))
		assert.Equal(t, 1, d.Seq)
		assert.Equal(t, draw.Number, d.Value)
	}

	stats := f.gw.Stats()
	assert.Equal(t, 3, stats.ActiveSockets)
	assert.Equal(t, 1, stats.Rooms)
	assert.GreaterOrEqual(t, stats.EventsEmitted, int64(3))
}

func TestPlayerCommands(t *testing.T) {
	f := newFixture(t)
	joined := f.join(t, "ana")
	conn := f.connect(t, NamespacePlayer, joined.SessionToken)

	send(t, conn, TypeSnapshot, "s1", nil)
	ack := readUntil(t, conn, isReply("s1"))
	require.Equal(t, TypeAck, ack.Type)
	var snap events.Snapshot
	require.NoError(t, json.Unmarshal(ack.Data, &snap))
	assert.Equal(t, f.game.ID, snap.GameID)
	require.Len(t, snap.Players, 1)

	first := joined.Card.Grid[0]
	send(t, conn, TypeMark, "m1", MarkData{CardID: joined.CardID, Position: 0, Marked: true})
	reply := readUntil(t, conn, isReply("m1"))
	require.Equal(t, TypeError, reply.Type)
	assert.Equal(t, apperrors.CodeNumberNotDrawn, reply.Error.Code, "number %d has not been drawn", first)

	send(t, conn, TypeClaim, "c1", ClaimData{CardID: joined.CardID, Pattern: "LINE_X"})
	reply = readUntil(t, conn, isReply("c1"))
	require.Equal(t, TypeError, reply.Type)
	assert.Equal(t, apperrors.CodeInvalidPattern, reply.Error.Code)

	send(t, conn, TypeDraw, "d1", nil)
	reply = readUntil(t, conn, isReply("d1"))
	require.Equal(t, TypeError, reply.Type)
	assert.Equal(t, apperrors.CodeForbidden, reply.Error.Code)

	send(t, conn, "shout", "x1", nil)
	reply = readUntil(t, conn, isReply("x1"))
	assert.Equal(t, apperrors.CodeInvalidArgument, reply.Error.Code)
}

func TestHostCommands(t *testing.T) {
	f := newFixture(t)
	joined := f.join(t, "ana")
	host := f.connect(t, NamespaceConsole, f.token(t, "host-1", auth.RoleHost))
	screen := f.connect(t, NamespaceScreen, f.token(t, "screen-1", auth.RoleScreen))

	send(t, host, TypeAutoDraw, "a1", AutoDrawData{Enabled: true, IntervalMs: 1000})
	reply := readUntil(t, host, isReply("a1"))
	require.Equal(t, TypeError, reply.Type)
	assert.Equal(t, apperrors.CodeInvalidArgument, reply.Error.Code)

	send(t, host, TypePenalty, "p1", PenaltyData{PlayerID: joined.PlayerID, Reason: "Noise"})
	reply = readUntil(t, host, isReply("p1"))
	require.Equal(t, TypeAck, reply.Type)
	var pen game.PenaltyResult
	require.NoError(t, json.Unmarshal(reply.Data, &pen))
	assert.Equal(t, 1, pen.Strikes)

	send(t, host, TypeMediaCue, "c1", CueData{Cue: "fanfare"})
	require.Equal(t, TypeAck, readUntil(t, host, isReply("c1")).Type)
	cue := readUntil(t, screen, isEvent(events.MediaCue))
	assert.JSONEq(t, `{"cue":"fanfare"}`, string(cue.Data))

	// An OPEN game cannot be paused until the first draw activates it.
	send(t, host, TypePause, "p2", nil)
	reply = readUntil(t, host, isReply("p2"))
	require.Equal(t, TypeError, reply.Type)
	assert.Equal(t, apperrors.CodeInvalidTransition, reply.Error.Code)

	send(t, host, TypeDraw, "d1", nil)
	require.Equal(t, TypeAck, readUntil(t, host, isReply("d1")).Type)
	send(t, host, TypePause, "p3", nil)
	reply = readUntil(t, host, isReply("p3"))
	require.Equal(t, TypeAck, reply.Type)
	var state GameState
	require.NoError(t, json.Unmarshal(reply.Data, &state))
	assert.Equal(t, string(store.GamePaused), state.Status)

	send(t, host, TypeOpen, "o1", nil)
	reply = readUntil(t, host, isReply("o1"))
	require.NoError(t, json.Unmarshal(reply.Data, &state))
	assert.Equal(t, string(store.GameActive), state.Status)
}

func TestPlayerDisconnectAnnouncesLeave(t *testing.T) {
	f := newFixture(t)
	joined := f.join(t, "ana")
	screen := f.connect(t, NamespaceScreen, f.token(t, "screen-1", auth.RoleScreen))
	player := f.connect(t, NamespacePlayer, joined.SessionToken)

	require.NoError(t, player.Close())

	msg := readUntil(t, screen, isEvent(events.PlayerLeave))
	var leave events.Leave
	require.NoError(t, json.Unmarshal(msg.Data, &leave))
	assert.Equal(t, joined.PlayerID, leave.PlayerID)
	assert.Equal(t, "ana", leave.Nickname)
	require.Eventually(t, func() bool { return f.gw.Stats().Disconnections == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestJoinEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/join", joinBody{Pin: f.game.Pin, Nickname: "ana", IdempotencyKey: "k1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var joined game.JoinResult
	require.NoError(t, json.Unmarshal(body, &joined))
	assert.Equal(t, f.game.ID, joined.GameID)
	assert.NotEmpty(t, joined.SessionToken)
	assert.NotEmpty(t, joined.ResumeToken)

	resp, replay := f.post(t, "/join", joinBody{Pin: f.game.Pin, Nickname: "ana", IdempotencyKey: "k1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, string(body), string(replay))

	tests := []struct {
		name   string
		body   any
		status int
		code   apperrors.Code
	}{
		{"bad pin", joinBody{Pin: "12", Nickname: "bo"}, http.StatusBadRequest, apperrors.CodeInvalidPin},
		{"taken nickname", joinBody{Pin: f.game.Pin, Nickname: "ana"}, http.StatusConflict, apperrors.CodeNicknameTaken},
		{"malformed", "not an object", http.StatusBadRequest, apperrors.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.post(t, "/join", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			var eb errorBody
			require.NoError(t, json.Unmarshal(body, &eb))
			assert.Equal(t, tt.code, eb.Error.Code)
		})
	}
}

func TestResumeEndpoint(t *testing.T) {
	f := newFixture(t)
	joined := f.join(t, "ana")

	resp, body := f.post(t, "/resume", resumeBody{ResumeToken: joined.ResumeToken})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var resumed game.ResumeResult
	require.NoError(t, json.Unmarshal(body, &resumed))
	assert.Equal(t, joined.PlayerID, resumed.PlayerID)
	assert.NotEqual(t, joined.SessionToken, resumed.SessionToken)

	// The rotated-out token no longer opens a socket.
	conn := f.dial(t, NamespacePlayer, joined.SessionToken)
	msg := readMessage(t, conn)
	require.Equal(t, TypeError, msg.Type)
	assert.Equal(t, apperrors.CodeUnauthorized, msg.Error.Code)

	resp, _ = f.post(t, "/resume", resumeBody{ResumeToken: "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/join", nil)
	r.RemoteAddr = "192.0.2.7:4100"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	plain := New(nil, nil, nil, testLogger())
	assert.Equal(t, "192.0.2.7", plain.clientIP(r))

	proxied := New(nil, nil, nil, testLogger(), WithTrustProxy(true))
	assert.Equal(t, "203.0.113.9", proxied.clientIP(r))
}

func TestResumeRevokesOpenSocket(t *testing.T) {
	f := newFixture(t)
	joined := f.join(t, "ana")
	old := f.connect(t, NamespacePlayer, joined.SessionToken)

	resumed, err := f.svc.Resume(context.Background(), joined.ResumeToken)
	require.NoError(t, err)

	send(t, old, TypeMark, "m1", MarkData{CardID: joined.CardID, Position: 12, Marked: true})
	reply := readUntil(t, old, isReply("m1"))
	require.Equal(t, TypeError, reply.Type)
	assert.Equal(t, apperrors.CodeUnauthorized, reply.Error.Code)

	require.NoError(t, old.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg Message
		if err = old.ReadJSON(&msg); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	fresh := f.connect(t, NamespacePlayer, resumed.SessionToken)
	send(t, fresh, TypeSnapshot, "s1", nil)
	assert.Equal(t, TypeAck, readUntil(t, fresh, isReply("s1")).Type)
}
