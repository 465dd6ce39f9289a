package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"realtimeCollab/backend/internal/events"
	"realtimeCollab/backend/internal/registry"
)

const aggregateCacheTTL = 10 * time.Second

// Tracker aggregates per-user presence from the connection registry,
// mirrors the aggregate for other nodes, and publishes one event per
// successful mutation.
type Tracker struct {
	reg   *registry.Registry
	store Store // optional; nil disables cross-node mirroring
	bus   events.Publisher
	log   zerolog.Logger

	// TTL for the mirrored aggregate; matches the staleness threshold.
	mirrorTTL time.Duration

	mu    sync.Mutex
	cache map[uint64]cachedAggregate
}

type cachedAggregate struct {
	agg      UserPresence
	cachedAt time.Time
}

func NewTracker(reg *registry.Registry, store Store, bus events.Publisher, mirrorTTL time.Duration, log zerolog.Logger) *Tracker {
	if mirrorTTL <= 0 {
		mirrorTTL = 300 * time.Second
	}
	return &Tracker{
		reg:       reg,
		store:     store,
		bus:       bus,
		log:       log,
		mirrorTTL: mirrorTTL,
		cache:     make(map[uint64]cachedAggregate),
	}
}

// GetUserPresence returns the aggregate presence for one user, served from
// a short-lived cache when fresh.
func (t *Tracker) GetUserPresence(ctx context.Context, userID uint64) (UserPresence, error) {
	t.mu.Lock()
	if entry, ok := t.cache[userID]; ok && time.Since(entry.cachedAt) < aggregateCacheTTL {
		t.mu.Unlock()
		return entry.agg, nil
	}
	t.mu.Unlock()

	agg := t.aggregate(ctx, userID)

	t.mu.Lock()
	t.cache[userID] = cachedAggregate{agg: agg, cachedAt: time.Now()}
	t.mu.Unlock()
	return agg, nil
}

// GetUsersPresence is the batched variant of GetUserPresence.
func (t *Tracker) GetUsersPresence(ctx context.Context, userIDs []uint64) ([]UserPresence, error) {
	out := make([]UserPresence, 0, len(userIDs))
	seen := make(map[uint64]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		agg, err := t.GetUserPresence(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, nil
}

// GetChannelPresence resolves the channel's subscribers and aggregates
// presence per user.
func (t *Tracker) GetChannelPresence(ctx context.Context, channel, objectType, objectID string) ([]UserPresence, error) {
	key := registry.SubscriptionKey(channel, objectType, objectID)
	conns := t.reg.FindByChannelKey(key)
	ids := make([]uint64, 0, len(conns))
	for _, conn := range conns {
		ids = append(ids, conn.UserID)
	}
	return t.GetUsersPresence(ctx, ids)
}

// UpdatePresence sets a connection's status (and optionally the current
// view) and emits a user.presence event. No status is ever inferred here;
// only disconnect and the staleness sweep force offline.
func (t *Tracker) UpdatePresence(ctx context.Context, connID string, status Status, currentView string) error {
	if !Valid(status) {
		return fmt.Errorf("invalid presence status %q", status)
	}
	conn, ok := t.reg.FindByID(connID)
	if !ok {
		return registry.ErrNotFound
	}
	s := string(status)
	update := registry.PresenceUpdate{Status: &s}
	if currentView != "" {
		update.CurrentView = &currentView
	}
	if err := t.reg.UpdatePresence(connID, update); err != nil {
		return err
	}
	t.refresh(ctx, conn.UserID)
	t.publish(ctx, events.Event{
		Name:    events.UserPresence,
		Subject: fmt.Sprintf("%d", conn.UserID),
		Payload: map[string]any{
			"userId":       conn.UserID,
			"status":       status,
			"connectionId": connID,
		},
	})
	return nil
}

// UpdateTyping sets the typing indicator and emits a user.typing event.
func (t *Tracker) UpdateTyping(ctx context.Context, connID string, isTyping bool, location string) error {
	conn, ok := t.reg.FindByID(connID)
	if !ok {
		return registry.ErrNotFound
	}
	if err := t.reg.UpdateTyping(connID, isTyping, location); err != nil {
		return err
	}
	t.refresh(ctx, conn.UserID)
	t.publish(ctx, events.Event{
		Name:    events.UserTyping,
		Subject: fmt.Sprintf("%d", conn.UserID),
		Payload: map[string]any{
			"userId":       conn.UserID,
			"isTyping":     isTyping,
			"location":     location,
			"connectionId": connID,
		},
	})
	return nil
}

// HandleHeartbeat stamps the connection's last ping.
func (t *Tracker) HandleHeartbeat(ctx context.Context, connID string) error {
	return t.reg.UpdatePing(connID)
}

// HandleDisconnect runs the presence part of the disconnect cascade for an
// already-removed connection: recompute the aggregate and, when the user's
// last connection is gone, force offline and say so.
func (t *Tracker) HandleDisconnect(ctx context.Context, conn registry.Connection) {
	agg := t.refresh(ctx, conn.UserID)
	if agg.ConnectionCount > 0 {
		return
	}
	t.publish(ctx, events.Event{
		Name:    events.UserPresence,
		Subject: fmt.Sprintf("%d", conn.UserID),
		Payload: map[string]any{
			"userId":       conn.UserID,
			"status":       StatusOffline,
			"connectionId": conn.ID,
		},
	})
}

// aggregate computes the derived presence: highest-priority status, max
// last-activity, live connection count. With no local connections the
// mirrored aggregate written by another node is consulted before reporting
// offline. Mutation paths recompute locally instead, so a node never reads
// back its own stale mirror.
func (t *Tracker) aggregate(ctx context.Context, userID uint64) UserPresence {
	agg := t.computeLocal(userID)
	if agg.ConnectionCount == 0 && t.store != nil {
		if mirrored, ok, err := t.store.GetAggregate(ctx, userID); err == nil && ok && mirrored.ConnectionCount > 0 {
			return mirrored
		} else if err != nil {
			t.log.Warn().Uint64("userId", userID).Err(err).Msg("presence mirror read failed")
		}
	}
	return agg
}

func (t *Tracker) computeLocal(userID uint64) UserPresence {
	conns := t.reg.FindByUser(userID)
	if len(conns) == 0 {
		return UserPresence{UserID: userID, Status: StatusOffline}
	}

	agg := UserPresence{UserID: userID, Status: StatusOffline, ConnectionCount: len(conns)}
	for _, conn := range conns {
		if s := Status(conn.Status); priority(s) > priority(agg.Status) {
			agg.Status = s
		}
		if conn.LastActivity.After(agg.LastActivity) {
			agg.LastActivity = conn.LastActivity
		}
	}
	return agg
}

// refresh invalidates the cached aggregate, recomputes it from local
// connections, and mirrors it.
func (t *Tracker) refresh(ctx context.Context, userID uint64) UserPresence {
	t.mu.Lock()
	delete(t.cache, userID)
	t.mu.Unlock()

	agg := t.computeLocal(userID)

	t.mu.Lock()
	t.cache[userID] = cachedAggregate{agg: agg, cachedAt: time.Now()}
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.SetAggregate(ctx, agg, t.mirrorTTL); err != nil {
			t.log.Warn().Uint64("userId", userID).Err(err).Msg("presence mirror write failed")
		}
	}
	return agg
}

func (t *Tracker) publish(ctx context.Context, evt events.Event) {
	if t.bus == nil {
		return
	}
	if err := t.bus.Publish(ctx, evt); err != nil {
		t.log.Warn().Str("event", evt.Name).Err(err).Msg("presence event publish failed")
	}
}
