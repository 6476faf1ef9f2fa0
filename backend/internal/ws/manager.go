package ws

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabBoard/backend/internal/cache"
	"collabBoard/backend/internal/cursor"
	"collabBoard/backend/internal/session"
	"collabBoard/backend/internal/store"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type ManagerOptions struct {
	OutboundQueueSize int
	CursorRatePerSec  int
	HeartbeatInterval time.Duration
}

// Manager accepts websocket connections and hands them to their dashboard's
// session actor.
type Manager struct {
	registry *session.Registry
	presence cache.PresenceCache
	throttle *cursor.Throttle
	logger   *zap.Logger
	opt      ManagerOptions
}

func NewManager(registry *session.Registry, presence cache.PresenceCache, logger *zap.Logger, opt ManagerOptions) *Manager {
	if opt.HeartbeatInterval <= 0 {
		opt.HeartbeatInterval = 15 * time.Second
	}
	return &Manager{
		registry: registry,
		presence: presence,
		throttle: cursor.NewThrottle(opt.CursorRatePerSec),
		logger:   logger,
		opt:      opt,
	}
}

// Connect handles GET /collab/ws?dashboardId=...&lastKnownVersion=N. The
// auth middleware has already verified the token and stored the identity.
func (m *Manager) Connect(c *gin.Context) {
	userID := c.GetUint64("userId")
	username := c.GetString("username")
	dashboardID := c.Query("dashboardId")
	if dashboardID == "" {
		c.String(http.StatusBadRequest, "missing dashboardId")
		return
	}
	lastKnown, _ := strconv.ParseUint(c.Query("lastKnownVersion"), 10, 64)

	sess, err := m.registry.GetOrCreate(c.Request.Context(), dashboardID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDashboardNotFound):
			c.String(http.StatusNotFound, "dashboard not found")
		case errors.Is(err, session.ErrShuttingDown):
			c.String(http.StatusServiceUnavailable, "shutting down")
		default:
			m.logger.Error("session start failed", zap.String("dashboardId", dashboardID), zap.Error(err))
			c.String(http.StatusServiceUnavailable, "session unavailable")
		}
		return
	}

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed",
			zap.String("origin", c.Request.Header.Get("Origin")), zap.Error(err))
		return
	}

	// Presence TTL covers a couple of missed heartbeats before the redis
	// mirror reaps the entry.
	conn := newConn(wsConn, sess, dashboardID, userID, username,
		m.presence, m.throttle, m.opt.OutboundQueueSize, 3*m.opt.HeartbeatInterval, m.logger)

	go conn.writeLoop()
	sess.Join(conn, lastKnown)

	conn.readLoop(c.Request.Context())
	conn.teardown()
	sess.Leave(conn)
}
