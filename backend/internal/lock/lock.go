package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"realtimeCollab/backend/internal/events"
)

const keyLockFmt = "lock:%s:%s:%s"

func lockKey(resourceType, resourceID, fieldName string) string {
	return fmt.Sprintf(keyLockFmt, resourceType, resourceID, fieldName)
}

// Info describes a held lock.
type Info struct {
	UserID     uint64    `json:"userId"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// acquireScript grants the lock when it is free or already held by the
// same user, refreshing the TTL either way. Check and set run atomically
// inside Redis so two concurrent acquirers can never both win.
var acquireScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false then
	redis.call("SET", KEYS[1], ARGV[2], "EX", ARGV[3])
	return 1
end
local ok, info = pcall(cjson.decode, cur)
if not ok then
	return 0
end
if tostring(info.userId) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "EX", ARGV[3])
	return 1
end
return 0
`)

// releaseScript deletes the lock only when held by the caller. A missing
// lock is a successful no-op.
var releaseScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false then
	return 1
end
local ok, info = pcall(cjson.decode, cur)
if not ok then
	return 0
end
if tostring(info.userId) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// Manager grants short-lived exclusive editing locks on
// (resource-type, resource-id, field) keys. Expiry is Redis-native TTL;
// acquire never blocks or queues.
type Manager struct {
	rdb redis.UniversalClient
	ttl time.Duration
	bus events.Publisher
	log zerolog.Logger

	// Locks granted through this node, tracked so the expiry sweep can
	// emit lock.expired events. Redis remains the authority.
	mu      sync.Mutex
	granted map[string]grant
}

type grant struct {
	resourceType string
	resourceID   string
	fieldName    string
	userID       uint64
	expiresAt    time.Time
}

func NewManager(rdb redis.UniversalClient, ttl time.Duration, bus events.Publisher, log zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Manager{
		rdb:     rdb,
		ttl:     ttl,
		bus:     bus,
		log:     log,
		granted: make(map[string]grant),
	}
}

// Acquire attempts to take (or refresh) the lock for userID. It fails fast
// when a different user holds it; callers retry or surface the conflict.
func (m *Manager) Acquire(ctx context.Context, resourceType, resourceID, fieldName string, userID uint64) (bool, error) {
	key := lockKey(resourceType, resourceID, fieldName)
	now := time.Now()
	info := Info{UserID: userID, AcquiredAt: now, ExpiresAt: now.Add(m.ttl)}
	blob, err := json.Marshal(info)
	if err != nil {
		return false, err
	}

	res, err := acquireScript.Run(ctx, m.rdb, []string{key},
		strconv.FormatUint(userID, 10), blob, int(m.ttl.Seconds())).Int()
	if err != nil {
		return false, err
	}
	if res != 1 {
		return false, nil
	}

	m.mu.Lock()
	m.granted[key] = grant{
		resourceType: resourceType,
		resourceID:   resourceID,
		fieldName:    fieldName,
		userID:       userID,
		expiresAt:    info.ExpiresAt,
	}
	m.mu.Unlock()

	m.publish(ctx, events.Event{
		Name:    events.LockAcquired,
		Subject: key,
		Payload: map[string]any{
			"resourceType": resourceType,
			"resourceId":   resourceID,
			"fieldName":    fieldName,
			"userId":       userID,
			"expiresAt":    info.ExpiresAt,
		},
	})
	return true, nil
}

// Release frees the lock if userID holds it. Releasing a missing lock
// succeeds; releasing someone else's lock fails, no override.
func (m *Manager) Release(ctx context.Context, resourceType, resourceID, fieldName string, userID uint64) (bool, error) {
	key := lockKey(resourceType, resourceID, fieldName)
	res, err := releaseScript.Run(ctx, m.rdb, []string{key},
		strconv.FormatUint(userID, 10)).Int()
	if err != nil {
		return false, err
	}
	if res != 1 {
		return false, nil
	}

	m.mu.Lock()
	delete(m.granted, key)
	m.mu.Unlock()

	m.publish(ctx, events.Event{
		Name:    events.LockReleased,
		Subject: key,
		Payload: map[string]any{
			"resourceType": resourceType,
			"resourceId":   resourceID,
			"fieldName":    fieldName,
			"userId":       userID,
		},
	})
	return true, nil
}

// IsLocked returns holder info for a live lock, or nil.
func (m *Manager) IsLocked(ctx context.Context, resourceType, resourceID, fieldName string) (*Info, error) {
	key := lockKey(resourceType, resourceID, fieldName)
	b, err := m.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ReleaseHeldBy frees every lock this node granted to userID, as part of
// the disconnect cascade. Failures are logged per lock and never break the
// rest of the cascade.
func (m *Manager) ReleaseHeldBy(ctx context.Context, userID uint64) {
	m.mu.Lock()
	var held []grant
	for _, g := range m.granted {
		if g.userID == userID {
			held = append(held, g)
		}
	}
	m.mu.Unlock()

	for _, g := range held {
		if _, err := m.Release(ctx, g.resourceType, g.resourceID, g.fieldName, userID); err != nil {
			m.log.Warn().
				Uint64("userId", userID).
				Str("lock", lockKey(g.resourceType, g.resourceID, g.fieldName)).
				Err(err).
				Msg("cascade lock release failed")
		}
	}
}

// SweepExpired emits lock.expired for node-granted locks whose TTL passed
// and whose key is gone from Redis. Expiry itself is enforced by Redis;
// this sweep exists for observability only.
func (m *Manager) SweepExpired(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	var candidates []grant
	var keys []string
	for key, g := range m.granted {
		if now.After(g.expiresAt) {
			candidates = append(candidates, g)
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()

	for i, g := range candidates {
		exists, err := m.rdb.Exists(ctx, keys[i]).Result()
		if err != nil {
			m.log.Warn().Str("lock", keys[i]).Err(err).Msg("lock expiry check failed")
			continue
		}
		if exists == 1 {
			// Re-acquired elsewhere; our record is stale either way.
			m.forget(keys[i])
			continue
		}
		m.forget(keys[i])
		m.publish(ctx, events.Event{
			Name:    events.LockExpired,
			Subject: keys[i],
			Payload: map[string]any{
				"resourceType": g.resourceType,
				"resourceId":   g.resourceID,
				"fieldName":    g.fieldName,
				"userId":       g.userID,
			},
		})
	}
}

func (m *Manager) forget(key string) {
	m.mu.Lock()
	delete(m.granted, key)
	m.mu.Unlock()
}

func (m *Manager) publish(ctx context.Context, evt events.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, evt); err != nil {
		m.log.Warn().Str("event", evt.Name).Err(err).Msg("lock event publish failed")
	}
}
