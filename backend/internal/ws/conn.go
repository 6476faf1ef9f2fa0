package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabBoard/backend/internal/cache"
	"collabBoard/backend/internal/cursor"
	"collabBoard/backend/internal/session"
)

const (
	// Time allowed to write one message to the peer.
	writeWait = 10 * time.Second
	// Read deadline; refreshed on every pong.
	pongWait = 60 * time.Second
	// Must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound frame size.
	maxMessageSize = 256 * 1024

	cursorTTL = 10 * time.Second
)

// Conn is one participant channel. Two outbound lanes: the durable queue is
// never dropped (overflow tears the connection down instead, and the client
// resyncs via snapshot), the ephemeral queue sheds cursor traffic first.
type Conn struct {
	ws          *websocket.Conn
	connID      string
	userID      uint64
	username    string
	dashboardID string

	sess     *session.Session
	presence cache.PresenceCache
	throttle *cursor.Throttle
	logger   *zap.Logger

	heartbeatTTL time.Duration

	sendDurable chan session.Outbound
	sendEph     chan session.Outbound

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, sess *session.Session, dashboardID string, userID uint64, username string,
	presence cache.PresenceCache, throttle *cursor.Throttle, queueSize int, heartbeatTTL time.Duration, logger *zap.Logger) *Conn {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Conn{
		ws:           ws,
		connID:       uuid.NewString(),
		userID:       userID,
		username:     username,
		dashboardID:  dashboardID,
		sess:         sess,
		presence:     presence,
		throttle:     throttle,
		logger:       logger,
		heartbeatTTL: heartbeatTTL,
		sendDurable:  make(chan session.Outbound, queueSize),
		sendEph:      make(chan session.Outbound, queueSize),
		closed:       make(chan struct{}),
	}
}

func (c *Conn) ConnectionID() string { return c.connID }
func (c *Conn) UserID() uint64       { return c.userID }
func (c *Conn) Username() string     { return c.username }

func (c *Conn) EnqueueDurable(msg session.Outbound) bool {
	select {
	case c.sendDurable <- msg:
		return true
	case <-c.closed:
		return false
	default:
		return false
	}
}

func (c *Conn) EnqueueEphemeral(msg session.Outbound) {
	select {
	case c.sendEph <- msg:
	default:
		// Cursor traffic under pressure: drop, the next sample replaces it.
	}
}

func (c *Conn) Kick(reason string) {
	go func() {
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
		c.teardown()
	}()
}

func (c *Conn) teardown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
		c.throttle.Forget(c.connID)
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		// Durable lane drains first.
		select {
		case msg := <-c.sendDurable:
			if !c.write(msg) {
				return
			}
			continue
		case <-c.closed:
			return
		default:
		}
		select {
		case msg := <-c.sendDurable:
			if !c.write(msg) {
				return
			}
		case msg := <-c.sendEph:
			if !c.write(msg) {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.teardown()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) write(msg session.Outbound) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.teardown()
		return false
	}
	return true
}

func (c *Conn) readLoop(ctx context.Context) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.logger.Debug("read ended", zap.Uint64("userId", c.userID), zap.Error(err))
			return
		}
		if !c.dispatch(ctx, msg) {
			return
		}
	}
}

// dispatch routes one inbound message. Returns false when the connection
// must close; a malformed payload closes this connection only, never the
// session.
func (c *Conn) dispatch(ctx context.Context, msg ClientMessage) bool {
	switch msg.Type {
	case "join":
		// Re-join on an open channel is a resync request.
		p, err := decodePayload[JoinPayload](msg.Payload)
		if err != nil && len(msg.Payload) > 0 {
			return c.reject(err)
		}
		c.sess.Join(c, p.LastKnownVersion)

	case "leave":
		// Deliberate exit: clear the redis mirror instead of letting the
		// TTL reap it.
		if c.presence != nil {
			if err := c.presence.RemoveMember(ctx, c.dashboardID, c.userID); err != nil {
				c.logger.Warn("presence remove failed", zap.Error(err))
			}
		}
		return false

	case "heartbeat":
		if c.presence != nil {
			if err := c.presence.AddMember(ctx, c.dashboardID, c.userID, c.username, c.heartbeatTTL); err != nil {
				c.logger.Warn("presence refresh failed", zap.Error(err))
			}
		}
		c.sess.Heartbeat(c)

	case "cursor_update":
		p, err := decodePayload[CursorPayload](msg.Payload)
		if err != nil {
			return c.reject(err)
		}
		if !c.throttle.Allow(c.connID, time.Now()) {
			// Over the per-connection rate: last write wins, sample dropped.
			return true
		}
		if c.presence != nil {
			if raw, err := json.Marshal(p); err == nil {
				_ = c.presence.SetCursor(ctx, c.dashboardID, c.userID, raw, cursorTTL)
			}
		}
		c.sess.Cursor(c, session.CursorMsg{WidgetID: p.WidgetID, X: p.X, Y: p.Y})

	case "change_operation":
		p, err := decodePayload[ChangeOperationPayload](msg.Payload)
		if err != nil {
			return c.reject(err)
		}
		if err := p.Validate(); err != nil {
			return c.reject(err)
		}
		op := p.toOperation(c.userID)
		if op.ID == "" {
			op.ID = uuid.NewString()
		}
		op.DashboardID = c.dashboardID
		c.sess.Submit(c, op)

	case "comment_create":
		p, err := decodePayload[CommentCreatePayload](msg.Payload)
		if err != nil {
			return c.reject(err)
		}
		if err := p.Validate(); err != nil {
			return c.reject(err)
		}
		c.sess.CreateComment(c, p.toRequest())

	case "comment_update":
		p, err := decodePayload[CommentUpdatePayload](msg.Payload)
		if err != nil {
			return c.reject(err)
		}
		if err := p.Validate(); err != nil {
			return c.reject(err)
		}
		c.sess.UpdateComment(c, session.CommentPatch{
			CommentID: p.CommentID,
			Body:      p.Body,
			Resolve:   p.Resolve,
		})

	default:
		c.EnqueueDurable(session.ErrorMsg{Type: "error", Code: session.CodeBadRequest,
			Message: "unknown message type " + msg.Type})
	}
	return true
}

// reject reports a malformed message and closes this connection.
func (c *Conn) reject(err error) bool {
	c.EnqueueDurable(session.ErrorMsg{Type: "error", Code: session.CodeBadRequest, Message: err.Error()})
	c.logger.Debug("malformed message", zap.Uint64("userId", c.userID), zap.Error(err))
	return false
}
