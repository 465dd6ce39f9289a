package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"realtimeCollab/backend/internal/channel"
	"realtimeCollab/backend/internal/collab"
	"realtimeCollab/backend/internal/presence"
	"realtimeCollab/backend/internal/registry"
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

// Manager upgrades authenticated requests to websocket connections and
// owns each connection's lifecycle: registry record on connect, full
// disconnect cascade on close.
type Manager struct {
	reg     *registry.Registry
	tracker *presence.Tracker
	fanout  *channel.Fanout
	coord   *collab.Coordinator
	log     zerolog.Logger
}

func NewManager(reg *registry.Registry, tracker *presence.Tracker, fanout *channel.Fanout, coord *collab.Coordinator, log zerolog.Logger) *Manager {
	return &Manager{reg: reg, tracker: tracker, fanout: fanout, coord: coord, log: log}
}

// WebSocketConnect serves one connection. Auth middleware has already
// verified the bearer credential and stored the acting user.
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetUint64("userId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.log.Warn().
			Str("origin", c.Request.Header.Get("Origin")).
			Err(err).
			Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	record := m.reg.Create(userID, registry.ClientInfo{
		Browser: c.Request.UserAgent(),
		IP:      c.ClientIP(),
	})

	wsConn := NewConn(conn, record.ID, userID, m.tracker, m.fanout, m.coord, m.log)
	m.fanout.Register(record.ID, wsConn)

	m.log.Info().
		Str("connectionId", record.ID).
		Uint64("userId", userID).
		Msg("connection established")

	// Writer first, so replies queued during the read loop drain promptly.
	go wsConn.writeLoop()
	wsConn.readLoop(c.Request.Context())

	// Disconnect cascade: every step runs even if an earlier one fails.
	m.fanout.Unregister(record.ID)
	removed, ok := m.reg.Delete(record.ID)
	if !ok {
		// Already reaped by the staleness sweep; its cascade ran.
		return
	}
	ctx := c.Request.Context()
	m.tracker.HandleDisconnect(ctx, removed)
	m.coord.HandleDisconnect(ctx, removed)

	m.log.Info().
		Str("connectionId", record.ID).
		Uint64("userId", userID).
		Msg("connection closed")
}
