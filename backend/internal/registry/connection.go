package registry

import (
	"time"
)

// ClientInfo is informational transport metadata captured at handshake.
type ClientInfo struct {
	Device  string `json:"device,omitempty"`
	Browser string `json:"browser,omitempty"`
	IP      string `json:"ip,omitempty"`
}

// Subscription binds a connection to one broadcast channel. Its key is the
// canonical identity used for every lookup.
type Subscription struct {
	Channel    string    `json:"channel"`
	ObjectType string    `json:"object_type"`
	ObjectID   string    `json:"object_id"`
	JoinedAt   time.Time `json:"joined_at"`
}

func (s Subscription) Key() string {
	return SubscriptionKey(s.Channel, s.ObjectType, s.ObjectID)
}

func SubscriptionKey(channel, objectType, objectID string) string {
	return channel + ":" + objectType + ":" + objectID
}

// TypingState is the typing sub-record of a connection's presence.
type TypingState struct {
	IsTyping bool   `json:"is_typing"`
	Location string `json:"location,omitempty"`
}

// Connection is one live transport connection. A connection belongs to
// exactly one user; its subscription set has no duplicate keys.
type Connection struct {
	ID     string
	UserID uint64
	Client ClientInfo

	Subscriptions map[string]Subscription

	// Presence sub-record. Status values are owned by the presence
	// package; the registry treats them as opaque strings.
	Status       string
	LastActivity time.Time
	CurrentView  string
	Typing       TypingState

	ConnectedAt time.Time
	LastPing    time.Time
}

// IsStale reports whether the connection has not pinged within maxAge.
func (c Connection) IsStale(maxAge time.Duration) bool {
	return time.Since(c.LastPing) > maxAge
}

func (c Connection) snapshot() Connection {
	subs := make(map[string]Subscription, len(c.Subscriptions))
	for k, v := range c.Subscriptions {
		subs[k] = v
	}
	c.Subscriptions = subs
	return c
}
