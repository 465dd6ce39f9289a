package channel

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"realtimeCollab/backend/internal/registry"
)

// activeWindow is the recency cutoff for the "active connections"
// statistic.
const activeWindow = 5 * time.Minute

// Sender delivers one message to a live transport connection. Enqueue
// reports false when the connection's outbound queue is full; the message
// is dropped, matching the at-most-once delivery guarantee.
type Sender interface {
	Enqueue(msg any) bool
}

// Fanout maps (channel, object-type, object-id) to subscribed connections
// and delivers messages to them. Authorization happens upstream; this
// component only enforces that the connection exists.
type Fanout struct {
	reg *registry.Registry
	log zerolog.Logger

	mu      sync.RWMutex
	senders map[string]Sender
}

type Statistics struct {
	TotalConnections  int `json:"totalConnections"`
	UniqueUsers       int `json:"uniqueUsers"`
	ActiveConnections int `json:"activeConnections"`
}

func NewFanout(reg *registry.Registry, log zerolog.Logger) *Fanout {
	return &Fanout{
		reg:     reg,
		log:     log,
		senders: make(map[string]Sender),
	}
}

// Register attaches the transport sender for a connection. Broadcast only
// reaches registered senders.
func (f *Fanout) Register(connID string, s Sender) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.senders[connID] = s
}

func (f *Fanout) Unregister(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.senders, connID)
}

func (f *Fanout) Subscribe(connID, channel, objectType, objectID string) (bool, error) {
	return f.reg.AddSubscription(connID, channel, objectType, objectID)
}

func (f *Fanout) Unsubscribe(connID, channel, objectType, objectID string) (bool, error) {
	return f.reg.RemoveSubscription(connID, channel, objectType, objectID)
}

// Broadcast delivers message to every currently-subscribed connection
// except excludeConnID, best-effort and at-most-once. A connection that
// vanished mid-broadcast simply misses the message; per-recipient failures
// are logged, never surfaced to the broadcaster.
func (f *Fanout) Broadcast(channel, objectType, objectID string, message any, excludeConnID string) int {
	key := registry.SubscriptionKey(channel, objectType, objectID)
	conns := f.reg.FindByChannelKey(key)

	delivered := 0
	for _, conn := range conns {
		if conn.ID == excludeConnID {
			continue
		}
		f.mu.RLock()
		sender, ok := f.senders[conn.ID]
		f.mu.RUnlock()
		if !ok {
			continue
		}
		if !sender.Enqueue(message) {
			f.log.Debug().
				Str("connectionId", conn.ID).
				Str("channel", key).
				Msg("broadcast dropped: send queue full")
			continue
		}
		delivered++
	}
	return delivered
}

func (f *Fanout) GetConnections(channel, objectType, objectID string) []registry.Connection {
	key := registry.SubscriptionKey(channel, objectType, objectID)
	return f.reg.FindByChannelKey(key)
}

func (f *Fanout) GetStatistics(channel, objectType, objectID string) Statistics {
	conns := f.GetConnections(channel, objectType, objectID)
	users := make(map[uint64]struct{}, len(conns))
	stats := Statistics{TotalConnections: len(conns)}
	for _, conn := range conns {
		users[conn.UserID] = struct{}{}
		if time.Since(conn.LastActivity) <= activeWindow {
			stats.ActiveConnections++
		}
	}
	stats.UniqueUsers = len(users)
	return stats
}
