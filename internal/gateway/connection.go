package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/auth"
	"github.com/jellynash/bingo/internal/events"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	sendBuffer = 256
)

// Connection is one authenticated socket in a game room.
type Connection struct {
	conn      *websocket.Conn
	send      chan *Message
	identity  *auth.Identity
	namespace Namespace
	room      string
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeCode int
	closeText string
	server    *Server
}

func newConnection(s *Server, conn *websocket.Conn, ns Namespace, id *auth.Identity) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		conn:      conn,
		send:      make(chan *Message, sendBuffer),
		identity:  id,
		namespace: ns,
		room:      events.Room(id.GameID),
		logger:    s.logger.With("ns", ns, "sub", id.Subject),
		ctx:       ctx,
		cancel:    cancel,
		server:    s,
	}
}

// Identity returns the verified token identity of the socket.
func (c *Connection) Identity() *auth.Identity {
	return c.identity
}

func (c *Connection) start() {
	go c.writePump()
	go c.readPump()
}

// Close asks the write pump to send a close frame and drop the socket. Room
// cleanup happens when the read pump exits.
func (c *Connection) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

// closeWith records the close frame the write pump sends on its way out.
func (c *Connection) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeText = code, text
		c.cancel()
	})
}

// SendMessage queues msg without blocking. A socket whose buffer is full is
// too slow to keep and gets closed.
func (c *Connection) SendMessage(msg *Message) error {
	select {
	case <-c.ctx.Done():
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn("Connection send buffer full, closing connection")
		_ = c.Close()
		return websocket.ErrCloseSent
	}
}

func (c *Connection) readPump() {
	defer c.server.release(c)
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket error", "error", err)
			}
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			if c.closeCode != websocket.CloseNormalClosure {
				c.flush()
			}
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeText), time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is already queued so a final error reaches the peer.
func (c *Connection) flush() {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) handleMessage(msg *Message) {
	c.server.stats.commands.Add(1)
	c.logger.Debug("Received command", "type", msg.Type, "request", msg.RequestID)

	cmd, ok := commands[msg.Type]
	if !ok {
		c.reply(msg.RequestID, nil, apperrors.New(apperrors.CodeInvalidArgument, "Unknown message type: "+msg.Type.String()))
		return
	}
	if !cmd.allows(c.identity.Role) {
		c.reply(msg.RequestID, nil, apperrors.New(apperrors.CodeForbidden, "Command not allowed for role "+string(c.identity.Role)))
		return
	}
	if err := c.checkSession(); err != nil {
		c.reply(msg.RequestID, nil, err)
		if apperrors.CodeOf(err) == apperrors.CodeUnauthorized {
			c.logger.Info("Closing socket with revoked token")
			c.closeWith(websocket.ClosePolicyViolation, string(apperrors.CodeUnauthorized))
		}
		return
	}

	data := msg.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	res, err := cmd.run(c.ctx, c, data)
	c.reply(msg.RequestID, res, err)
}

// checkSession re-checks the socket's token id. Resume rotates a player's
// session token, and sockets still holding the old one must stop acting on it.
func (c *Connection) checkSession() error {
	rc := c.server.revocations
	if rc == nil {
		return nil
	}
	revoked, err := rc.Revoked(c.ctx, c.identity)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnavailable, "Token check unavailable", err)
	}
	if revoked {
		return apperrors.New(apperrors.CodeUnauthorized, "Session has been revoked")
	}
	return nil
}

func (c *Connection) reply(requestID string, data any, err error) {
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeInternal {
			c.logger.Error("Command failed", "request", requestID, "error", err)
		}
		_ = c.SendMessage(errorMessage(requestID, err))
		return
	}
	msg, err := ackMessage(requestID, data)
	if err != nil {
		c.logger.Error("Failed to encode ack", "request", requestID, "error", err)
		_ = c.SendMessage(errorMessage(requestID, err))
		return
	}
	_ = c.SendMessage(msg)
}
