package events

import (
	"context"
	"time"
)

// Event names carried on the bus.
const (
	UserPresence       = "user.presence"
	UserTyping         = "user.typing"
	LockAcquired       = "lock.acquired"
	LockReleased       = "lock.released"
	LockExpired        = "lock.expired"
	CollaborationJoin  = "collaboration.join"
	CollaborationLeave = "collaboration.leave"
	CollaborationOp    = "collaboration.operation"
)

// Event is a named payload published to the bus. Subject keys the Kafka
// partition so events for one resource stay ordered.
type Event struct {
	Name       string         `json:"event"`
	Subject    string         `json:"subject"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Publisher is the event-emission seam between services and the bus.
// Publish enqueues; delivery is asynchronous and best-effort.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}
