package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"realtimeCollab/backend/internal/channel"
	"realtimeCollab/backend/internal/presence"
	"realtimeCollab/backend/internal/registry"
)

// ChannelHandler serves the read-only channel surface for non-realtime
// callers. Authorization beyond "caller is authenticated" lives upstream;
// broadcast additionally requires the caller to be subscribed.
type ChannelHandler struct {
	reg     *registry.Registry
	tracker *presence.Tracker
	fanout  *channel.Fanout
	log     zerolog.Logger
}

func NewChannelHandler(reg *registry.Registry, tracker *presence.Tracker, fanout *channel.Fanout, log zerolog.Logger) *ChannelHandler {
	return &ChannelHandler{reg: reg, tracker: tracker, fanout: fanout, log: log}
}

type channelRef struct {
	Channel    string    `json:"channel"`
	ObjectType string    `json:"objectType"`
	ObjectID   string    `json:"objectId"`
	JoinedAt   time.Time `json:"joinedAt"`
}

type participantView struct {
	UserID       uint64                 `json:"userId"`
	ConnectionID string                 `json:"connectionId"`
	ConnectedAt  time.Time              `json:"connectedAt"`
	Presence     *presence.UserPresence `json:"presence,omitempty"`
}

func callerID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get("userId")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	userID, ok := v.(uint64)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	return userID, true
}

func channelParams(c *gin.Context) (ch, objectType, objectID string, ok bool) {
	ch = c.Param("channel")
	objectType = c.Param("objectType")
	objectID = c.Param("objectId")
	if ch == "" || objectType == "" || objectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing channel path parameters"})
		return "", "", "", false
	}
	return ch, objectType, objectID, true
}

// ListMyChannels returns the distinct channels the caller's connections
// are subscribed to.
func (h *ChannelHandler) ListMyChannels(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	seen := make(map[string]channelRef)
	for _, conn := range h.reg.FindByUser(userID) {
		for key, sub := range conn.Subscriptions {
			if prev, dup := seen[key]; dup && prev.JoinedAt.Before(sub.JoinedAt) {
				continue
			}
			seen[key] = channelRef{
				Channel:    sub.Channel,
				ObjectType: sub.ObjectType,
				ObjectID:   sub.ObjectID,
				JoinedAt:   sub.JoinedAt,
			}
		}
	}

	channels := make([]channelRef, 0, len(seen))
	for _, ref := range seen {
		channels = append(channels, ref)
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// GetChannel returns participants, statistics, and presence in one payload.
func (h *ChannelHandler) GetChannel(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}
	ch, objectType, objectID, ok := channelParams(c)
	if !ok {
		return
	}

	conns := h.fanout.GetConnections(ch, objectType, objectID)
	if len(conns) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}

	presences, err := h.tracker.GetChannelPresence(c.Request.Context(), ch, objectType, objectID)
	if err != nil {
		h.log.Error().Err(err).Msg("channel presence lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"channel":      ch,
		"objectType":   objectType,
		"objectId":     objectID,
		"participants": participants(conns, nil),
		"statistics":   h.fanout.GetStatistics(ch, objectType, objectID),
		"presence":     presences,
	})
}

// GetParticipants lists subscribed connections; ?presence=true attaches
// each participant's aggregate presence.
func (h *ChannelHandler) GetParticipants(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}
	ch, objectType, objectID, ok := channelParams(c)
	if !ok {
		return
	}

	conns := h.fanout.GetConnections(ch, objectType, objectID)
	if len(conns) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}

	var byUser map[uint64]presence.UserPresence
	if c.Query("presence") == "true" {
		userIDs := make([]uint64, 0, len(conns))
		for _, conn := range conns {
			userIDs = append(userIDs, conn.UserID)
		}
		presences, err := h.tracker.GetUsersPresence(c.Request.Context(), userIDs)
		if err != nil {
			h.log.Error().Err(err).Msg("participant presence lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "presence lookup failed"})
			return
		}
		byUser = make(map[uint64]presence.UserPresence, len(presences))
		for _, p := range presences {
			byUser[p.UserID] = p
		}
	}

	c.JSON(http.StatusOK, gin.H{"participants": participants(conns, byUser)})
}

func (h *ChannelHandler) GetPresence(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}
	ch, objectType, objectID, ok := channelParams(c)
	if !ok {
		return
	}

	if len(h.fanout.GetConnections(ch, objectType, objectID)) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}

	presences, err := h.tracker.GetChannelPresence(c.Request.Context(), ch, objectType, objectID)
	if err != nil {
		h.log.Error().Err(err).Msg("channel presence lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": presences})
}

func (h *ChannelHandler) GetStatistics(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}
	ch, objectType, objectID, ok := channelParams(c)
	if !ok {
		return
	}

	conns := h.fanout.GetConnections(ch, objectType, objectID)
	if len(conns) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"statistics": h.fanout.GetStatistics(ch, objectType, objectID)})
}

type broadcastReq struct {
	Event   string         `json:"event"`
	Message map[string]any `json:"message" binding:"required"`
}

// Broadcast pushes a message to every subscribed connection. The caller
// must hold a subscription to the channel through at least one of their
// own connections.
func (h *ChannelHandler) Broadcast(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	ch, objectType, objectID, ok := channelParams(c)
	if !ok {
		return
	}

	var req broadcastReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conns := h.fanout.GetConnections(ch, objectType, objectID)
	if len(conns) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}

	key := registry.SubscriptionKey(ch, objectType, objectID)
	subscribed := false
	for _, conn := range h.reg.FindByUser(userID) {
		if h.reg.HasSubscription(conn.ID, key) {
			subscribed = true
			break
		}
	}
	if !subscribed {
		c.JSON(http.StatusForbidden, gin.H{"error": "not subscribed to channel"})
		return
	}

	event := req.Event
	if event == "" {
		event = "channel.message"
	}
	payload := gin.H{
		"type":        event,
		"channel":     ch,
		"object_type": objectType,
		"object_id":   objectID,
		"from_user":   userID,
		"message":     req.Message,
		"timestamp":   time.Now().UTC(),
	}

	delivered := h.fanout.Broadcast(ch, objectType, objectID, payload, "")
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

func participants(conns []registry.Connection, byUser map[uint64]presence.UserPresence) []participantView {
	views := make([]participantView, 0, len(conns))
	for _, conn := range conns {
		view := participantView{
			UserID:       conn.UserID,
			ConnectionID: conn.ID,
			ConnectedAt:  conn.ConnectedAt,
		}
		if byUser != nil {
			if p, ok := byUser[conn.UserID]; ok {
				pc := p
				view.Presence = &pc
			}
		}
		views = append(views, view)
	}
	return views
}
