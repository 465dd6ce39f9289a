package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("connection not found")

// Registry tracks every live connection served by this process. It is the
// node-local source of truth the presence tracker and channel fanout build
// on; shared cross-node state lives in Redis, not here.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]*Connection
	byUser    map[uint64]map[string]struct{}
	byChannel map[string]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		byID:      make(map[string]*Connection),
		byUser:    make(map[uint64]map[string]struct{}),
		byChannel: make(map[string]map[string]struct{}),
	}
}

// Create registers a new connection for userID and returns its snapshot.
// New connections start online with fresh activity timestamps.
func (r *Registry) Create(userID uint64, client ClientInfo) Connection {
	now := time.Now()
	conn := &Connection{
		ID:            uuid.NewString(),
		UserID:        userID,
		Client:        client,
		Subscriptions: make(map[string]Subscription),
		Status:        "online",
		LastActivity:  now,
		ConnectedAt:   now,
		LastPing:      now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[conn.ID] = conn
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][conn.ID] = struct{}{}
	return conn.snapshot()
}

func (r *Registry) FindByID(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[id]
	if !ok {
		return Connection{}, false
	}
	return conn.snapshot(), true
}

func (r *Registry) FindByUser(userID uint64) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		if conn, ok := r.byID[id]; ok {
			out = append(out, conn.snapshot())
		}
	}
	return out
}

func (r *Registry) FindByChannelKey(key string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, len(r.byChannel[key]))
	for id := range r.byChannel[key] {
		if conn, ok := r.byID[id]; ok {
			out = append(out, conn.snapshot())
		}
	}
	return out
}

// AddSubscription is idempotent: subscribing to an existing key is a no-op
// reported through added=false.
func (r *Registry) AddSubscription(connID, channel, objectType, objectID string) (added bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byID[connID]
	if !ok {
		return false, ErrNotFound
	}
	key := SubscriptionKey(channel, objectType, objectID)
	if _, exists := conn.Subscriptions[key]; exists {
		return false, nil
	}
	conn.Subscriptions[key] = Subscription{
		Channel:    channel,
		ObjectType: objectType,
		ObjectID:   objectID,
		JoinedAt:   time.Now(),
	}
	if r.byChannel[key] == nil {
		r.byChannel[key] = make(map[string]struct{})
	}
	r.byChannel[key][connID] = struct{}{}
	return true, nil
}

// RemoveSubscription mirrors AddSubscription: removing a missing key is
// reported through removed=false rather than an error.
func (r *Registry) RemoveSubscription(connID, channel, objectType, objectID string) (removed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byID[connID]
	if !ok {
		return false, ErrNotFound
	}
	key := SubscriptionKey(channel, objectType, objectID)
	if _, exists := conn.Subscriptions[key]; !exists {
		return false, nil
	}
	delete(conn.Subscriptions, key)
	r.dropChannelIndex(key, connID)
	return true, nil
}

func (r *Registry) HasSubscription(connID, key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[connID]
	if !ok {
		return false
	}
	_, exists := conn.Subscriptions[key]
	return exists
}

// PresenceUpdate carries the partial fields of update_presence; nil fields
// are left untouched. LastActivity is always stamped.
type PresenceUpdate struct {
	Status      *string
	CurrentView *string
}

func (r *Registry) UpdatePresence(connID string, update PresenceUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byID[connID]
	if !ok {
		return ErrNotFound
	}
	if update.Status != nil {
		conn.Status = *update.Status
	}
	if update.CurrentView != nil {
		conn.CurrentView = *update.CurrentView
	}
	conn.LastActivity = time.Now()
	return nil
}

func (r *Registry) UpdateTyping(connID string, isTyping bool, location string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byID[connID]
	if !ok {
		return ErrNotFound
	}
	conn.Typing = TypingState{IsTyping: isTyping, Location: location}
	conn.LastActivity = time.Now()
	return nil
}

func (r *Registry) UpdatePing(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byID[connID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	conn.LastPing = now
	conn.LastActivity = now
	return nil
}

func (r *Registry) IsStale(connID string, maxAge time.Duration) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[connID]
	if !ok {
		return false, ErrNotFound
	}
	return conn.IsStale(maxAge), nil
}

// Stale returns every connection with no ping within maxAge, for the
// cleanup sweep.
func (r *Registry) Stale(maxAge time.Duration) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Connection
	for _, conn := range r.byID {
		if conn.IsStale(maxAge) {
			out = append(out, conn.snapshot())
		}
	}
	return out
}

// Delete removes the connection and every index entry pointing at it,
// returning the final snapshot so callers can run the disconnect cascade.
func (r *Registry) Delete(connID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byID[connID]
	if !ok {
		return Connection{}, false
	}
	delete(r.byID, connID)
	if users := r.byUser[conn.UserID]; users != nil {
		delete(users, connID)
		if len(users) == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
	for key := range conn.Subscriptions {
		r.dropChannelIndex(key, connID)
	}
	return conn.snapshot(), true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) dropChannelIndex(key, connID string) {
	if conns := r.byChannel[key]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byChannel, key)
		}
	}
}
