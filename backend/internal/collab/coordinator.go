package collab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"realtimeCollab/backend/internal/channel"
	"realtimeCollab/backend/internal/events"
	"realtimeCollab/backend/internal/ot"
	"realtimeCollab/backend/internal/registry"
)

// CollaborationChannel is the fanout channel session events ride on.
const CollaborationChannel = "collaboration"

// casAttempts bounds how many times one submission re-resolves after
// losing the version compare-and-set race.
const casAttempts = 3

var supportedResources = map[string]struct{}{
	"task":     {},
	"project":  {},
	"document": {},
	"comment":  {},
}

// fieldKind fixes a field's content-type convention for lazily created
// documents.
func fieldKind(fieldName string) ot.Kind {
	switch fieldName {
	case "checklist", "tags", "assignees", "labels":
		return ot.KindList
	case "settings", "metadata", "custom_fields":
		return ot.KindMap
	default:
		return ot.KindString
	}
}

type Options struct {
	// MaxRetries/RetryBackoff shape the bounded backoff applied to
	// shared-store failures before reporting a dependency failure.
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxConcurrentSubmits caps in-flight OT work.
	MaxConcurrentSubmits int
}

// Coordinator orchestrates collaboration sessions: join/leave, routing
// operations through the OT engine, persistence, and event publication.
type Coordinator struct {
	reg      *registry.Registry
	docs     DocumentStore
	durable  DurableStore // optional
	history  HistoryStore
	sessions SessionStore
	locks    Locker
	fanout   *channel.Fanout
	bus      events.Publisher
	sem      *Semaphore
	log      zerolog.Logger

	maxRetries   int
	retryBackoff time.Duration

	// Sessions joined through this node, per connection, so disconnects
	// can cascade without a registry round trip.
	mu     sync.Mutex
	joined map[string]map[string]sessionKey
}

type sessionKey struct {
	resourceType string
	resourceID   string
	fieldName    string
}

func (k sessionKey) String() string {
	return k.resourceType + ":" + k.resourceID + ":" + k.fieldName
}

func NewCoordinator(
	reg *registry.Registry,
	docs DocumentStore,
	durable DurableStore,
	history HistoryStore,
	sessions SessionStore,
	locks Locker,
	fanout *channel.Fanout,
	bus events.Publisher,
	log zerolog.Logger,
	opt Options,
) *Coordinator {
	if opt.MaxRetries <= 0 {
		opt.MaxRetries = 3
	}
	if opt.RetryBackoff <= 0 {
		opt.RetryBackoff = 50 * time.Millisecond
	}
	return &Coordinator{
		reg:          reg,
		docs:         docs,
		durable:      durable,
		history:      history,
		sessions:     sessions,
		locks:        locks,
		fanout:       fanout,
		bus:          bus,
		sem:          NewSemaphore(opt.MaxConcurrentSubmits),
		log:          log,
		maxRetries:   opt.MaxRetries,
		retryBackoff: opt.RetryBackoff,
		joined:       make(map[string]map[string]sessionKey),
	}
}

func SupportedResource(resourceType string) bool {
	_, ok := supportedResources[resourceType]
	return ok
}

// JoinSession registers the connection's user as a participant and returns
// everything the client needs to start editing.
func (c *Coordinator) JoinSession(ctx context.Context, connID, resourceType, resourceID, fieldName string) (JoinResult, error) {
	if !SupportedResource(resourceType) {
		return JoinResult{}, fmt.Errorf("%w: %q", ErrUnsupportedResource, resourceType)
	}
	conn, ok := c.reg.FindByID(connID)
	if !ok {
		return JoinResult{}, registry.ErrNotFound
	}

	participant := Participant{
		UserID:       conn.UserID,
		ConnectionID: connID,
		JoinedAt:     time.Now(),
	}
	var participants []Participant
	err := c.withRetry(ctx, func() error {
		var err error
		participants, err = c.sessions.Join(ctx, resourceType, resourceID, fieldName, participant)
		return err
	})
	if err != nil {
		return JoinResult{}, fmt.Errorf("%w: session join: %v", ErrDependency, err)
	}

	state, err := c.loadDocument(ctx, resourceType, resourceID, fieldName)
	if err != nil {
		return JoinResult{}, err
	}

	lockInfo, err := c.locks.IsLocked(ctx, resourceType, resourceID, fieldName)
	if err != nil {
		c.log.Warn().Str("resource", resourceType+":"+resourceID).Err(err).Msg("lock status read failed")
	}

	key := sessionKey{resourceType, resourceID, fieldName}
	c.mu.Lock()
	if c.joined[connID] == nil {
		c.joined[connID] = make(map[string]sessionKey)
	}
	c.joined[connID][key.String()] = key
	c.mu.Unlock()

	// Session events ride a dedicated per-resource fanout channel; join
	// subscribes the connection so it receives subsequent broadcasts.
	if _, err := c.fanout.Subscribe(connID, CollaborationChannel, resourceType, resourceID); err != nil {
		c.log.Warn().Str("connectionId", connID).Err(err).Msg("collaboration subscribe failed")
	}

	payload := map[string]any{
		"resourceType": resourceType,
		"resourceId":   resourceID,
		"fieldName":    fieldName,
		"userId":       conn.UserID,
		"connectionId": connID,
	}
	c.publish(ctx, events.CollaborationJoin, key.String(), payload)
	c.fanout.Broadcast(CollaborationChannel, resourceType, resourceID, map[string]any{
		"type":          "collaboration.join",
		"resource_type": resourceType,
		"resource_id":   resourceID,
		"field_name":    fieldName,
		"userId":        conn.UserID,
	}, connID)

	return JoinResult{Participants: participants, Document: state, Lock: lockInfo}, nil
}

// LeaveSession removes the participant and runs the cleanup cascade. Each
// step is attempted independently; one failing step never skips the rest.
func (c *Coordinator) LeaveSession(ctx context.Context, connID, resourceType, resourceID, fieldName string) error {
	conn, ok := c.reg.FindByID(connID)
	if !ok {
		return registry.ErrNotFound
	}
	c.leave(ctx, conn, sessionKey{resourceType, resourceID, fieldName})
	return nil
}

func (c *Coordinator) leave(ctx context.Context, conn registry.Connection, key sessionKey) {
	if _, err := c.sessions.Leave(ctx, key.resourceType, key.resourceID, key.fieldName, conn.UserID); err != nil {
		c.log.Warn().Str("session", key.String()).Err(err).Msg("session leave failed")
	}

	// A leave must never strand a lock, even if the step above failed.
	if _, err := c.locks.Release(ctx, key.resourceType, key.resourceID, key.fieldName, conn.UserID); err != nil {
		c.log.Warn().Str("session", key.String()).Err(err).Msg("cascade lock release failed")
	}

	c.mu.Lock()
	if sessions := c.joined[conn.ID]; sessions != nil {
		delete(sessions, key.String())
		if len(sessions) == 0 {
			delete(c.joined, conn.ID)
		}
	}
	stillOnResource := false
	for _, other := range c.joined[conn.ID] {
		if other.resourceType == key.resourceType && other.resourceID == key.resourceID {
			stillOnResource = true
			break
		}
	}
	c.mu.Unlock()

	if !stillOnResource {
		if _, err := c.fanout.Unsubscribe(conn.ID, CollaborationChannel, key.resourceType, key.resourceID); err != nil {
			c.log.Warn().Str("connectionId", conn.ID).Err(err).Msg("collaboration unsubscribe failed")
		}
	}

	c.publish(ctx, events.CollaborationLeave, key.String(), map[string]any{
		"resourceType": key.resourceType,
		"resourceId":   key.resourceID,
		"fieldName":    key.fieldName,
		"userId":       conn.UserID,
		"connectionId": conn.ID,
	})
	c.fanout.Broadcast(CollaborationChannel, key.resourceType, key.resourceID, map[string]any{
		"type":          "collaboration.leave",
		"resource_type": key.resourceType,
		"resource_id":   key.resourceID,
		"field_name":    key.fieldName,
		"userId":        conn.UserID,
	}, conn.ID)
}

// SubmitOperation validates, resolves conflicts, applies, persists, and
// broadcasts one edit operation. Conflicts come back as structured results
// so the transport can tell them apart from plain errors.
func (c *Coordinator) SubmitOperation(ctx context.Context, connID, resourceType, resourceID, fieldName string, op ot.Operation, clientVersion uint64) (SubmitResult, error) {
	if !SupportedResource(resourceType) {
		return SubmitResult{}, fmt.Errorf("%w: %q", ErrUnsupportedResource, resourceType)
	}
	conn, ok := c.reg.FindByID(connID)
	if !ok {
		return SubmitResult{}, registry.ErrNotFound
	}
	if err := ot.Validate(op); err != nil {
		return SubmitResult{}, err
	}

	if err := c.sem.Acquire(ctx); err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	defer c.sem.Release()

	op.ID = uuid.NewString()
	op.UserID = conn.UserID
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		state, err := c.loadDocument(ctx, resourceType, resourceID, fieldName)
		if err != nil {
			return SubmitResult{}, err
		}

		resolved, resolvedOK, err := c.resolve(ctx, op, clientVersion, state, resourceType, resourceID, fieldName)
		if err != nil {
			return SubmitResult{}, err
		}
		if !resolvedOK {
			return SubmitResult{
				Conflict: &Conflict{
					CurrentVersion: state.Version,
					ClientVersion:  clientVersion,
					Document:       state,
				},
			}, nil
		}

		applied := resolved.Op
		applied.Version = state.Version + 1
		newState, err := ot.Apply(state, applied)
		if err != nil {
			return SubmitResult{}, err
		}

		var wrote bool
		err = c.withRetry(ctx, func() error {
			var err error
			wrote, err = c.docs.CompareAndSet(ctx, resourceType, resourceID, fieldName, newState, state.Version)
			return err
		})
		if err != nil {
			return SubmitResult{}, fmt.Errorf("%w: document write: %v", ErrDependency, err)
		}
		if !wrote {
			// Lost the version race; re-resolve against the new head.
			continue
		}

		c.afterApply(ctx, conn, resourceType, resourceID, fieldName, applied, newState)
		return SubmitResult{
			Success:   true,
			Document:  newState,
			Operation: applied,
			Version:   newState.Version,
		}, nil
	}

	return SubmitResult{}, fmt.Errorf("%w: document contention persisted", ErrDependency)
}

// resolve runs the three-step conflict chain when the client's base
// version trails the document.
func (c *Coordinator) resolve(ctx context.Context, op ot.Operation, clientVersion uint64, state ot.DocumentState, resourceType, resourceID, fieldName string) (ot.Resolution, bool, error) {
	if clientVersion == state.Version {
		return ot.Resolution{Op: op, Strategy: ot.StrategyDirect}, true, nil
	}
	var history []ot.HistoryEntry
	err := c.withRetry(ctx, func() error {
		var err error
		history, err = c.history.Since(ctx, resourceType, resourceID, fieldName, 0)
		return err
	})
	if err != nil {
		return ot.Resolution{}, false, fmt.Errorf("%w: history read: %v", ErrDependency, err)
	}
	res, ok := ot.Resolve(op, clientVersion, state, history)
	return res, ok, nil
}

// afterApply registers history and fans the applied operation out. These
// are post-commit side effects: failures are logged, the apply stands.
func (c *Coordinator) afterApply(ctx context.Context, conn registry.Connection, resourceType, resourceID, fieldName string, applied ot.Operation, newState ot.DocumentState) {
	entry := ot.HistoryEntry{Operation: applied}
	if snap, ok := ot.SnapshotOf(newState); ok {
		entry.Snapshot = snap
		entry.HasSnapshot = true
	}
	err := c.withRetry(ctx, func() error {
		return c.history.Append(ctx, resourceType, resourceID, fieldName, entry)
	})
	if err != nil {
		c.log.Error().Str("operationId", applied.ID).Err(err).Msg("history append failed")
	}

	if c.durable != nil {
		err := c.withRetry(ctx, func() error {
			return c.durable.Save(ctx, resourceType, resourceID, fieldName, newState)
		})
		if err != nil {
			c.log.Error().Str("operationId", applied.ID).Err(err).Msg("durable save failed")
		}
	}

	key := sessionKey{resourceType, resourceID, fieldName}
	c.publish(ctx, events.CollaborationOp, key.String(), map[string]any{
		"resourceType": resourceType,
		"resourceId":   resourceID,
		"fieldName":    fieldName,
		"operationId":  applied.ID,
		"userId":       conn.UserID,
		"version":      newState.Version,
	})
	c.fanout.Broadcast(CollaborationChannel, resourceType, resourceID, map[string]any{
		"type":          "collaboration.operation",
		"resource_type": resourceType,
		"resource_id":   resourceID,
		"field_name":    fieldName,
		"operation":     applied,
		"document":      newState,
		"version":       newState.Version,
	}, conn.ID)
}

// LockResource and UnlockResource are thin delegation to the lock
// manager; event publication already happens there.
func (c *Coordinator) LockResource(ctx context.Context, connID, resourceType, resourceID, fieldName string) (bool, error) {
	if !SupportedResource(resourceType) {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedResource, resourceType)
	}
	conn, ok := c.reg.FindByID(connID)
	if !ok {
		return false, registry.ErrNotFound
	}
	return c.locks.Acquire(ctx, resourceType, resourceID, fieldName, conn.UserID)
}

func (c *Coordinator) UnlockResource(ctx context.Context, connID, resourceType, resourceID, fieldName string) (bool, error) {
	if !SupportedResource(resourceType) {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedResource, resourceType)
	}
	conn, ok := c.reg.FindByID(connID)
	if !ok {
		return false, registry.ErrNotFound
	}
	return c.locks.Release(ctx, resourceType, resourceID, fieldName, conn.UserID)
}

// HandleDisconnect leaves every session the connection had joined and,
// when the user's last connection is gone, frees all their locks. Cleanup
// steps run independently; failures are logged, never chained.
func (c *Coordinator) HandleDisconnect(ctx context.Context, conn registry.Connection) {
	c.mu.Lock()
	var keys []sessionKey
	for _, key := range c.joined[conn.ID] {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.leave(ctx, conn, key)
	}

	if len(c.reg.FindByUser(conn.UserID)) == 0 {
		c.locks.ReleaseHeldBy(ctx, conn.UserID)
	}
}

// loadDocument reads through the tiers: cache, durable store, then the
// lazy empty default for the field's content kind.
func (c *Coordinator) loadDocument(ctx context.Context, resourceType, resourceID, fieldName string) (ot.DocumentState, error) {
	var state ot.DocumentState
	var found bool
	err := c.withRetry(ctx, func() error {
		var err error
		state, found, err = c.docs.Get(ctx, resourceType, resourceID, fieldName)
		return err
	})
	if err != nil {
		return ot.DocumentState{}, fmt.Errorf("%w: document read: %v", ErrDependency, err)
	}
	if found {
		return state, nil
	}

	if c.durable != nil {
		err := c.withRetry(ctx, func() error {
			var err error
			state, found, err = c.durable.Load(ctx, resourceType, resourceID, fieldName)
			return err
		})
		if err != nil {
			return ot.DocumentState{}, fmt.Errorf("%w: durable read: %v", ErrDependency, err)
		}
		if found {
			if err := c.docs.Put(ctx, resourceType, resourceID, fieldName, state); err != nil {
				c.log.Warn().Str("doc", resourceType+":"+resourceID+":"+fieldName).Err(err).Msg("cache warm failed")
			}
			return state, nil
		}
	}

	return ot.DocumentState{Content: ot.EmptyContent(fieldKind(fieldName)), Version: 0}, nil
}

// withRetry applies bounded doubling backoff to shared-store calls.
func (c *Coordinator) withRetry(ctx context.Context, fn func() error) error {
	var err error
	backoff := c.retryBackoff
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == c.maxRetries-1 {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}

func (c *Coordinator) publish(ctx context.Context, name, subject string, payload map[string]any) {
	if c.bus == nil {
		return
	}
	evt := events.Event{Name: name, Subject: subject, Payload: payload}
	if err := c.bus.Publish(ctx, evt); err != nil {
		c.log.Warn().Str("event", name).Err(err).Msg("event publish failed")
	}
}
