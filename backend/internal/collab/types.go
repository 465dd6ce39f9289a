package collab

import (
	"context"
	"errors"
	"time"

	"realtimeCollab/backend/internal/lock"
	"realtimeCollab/backend/internal/ot"
)

var (
	// ErrUnsupportedResource rejects resource types outside the supported
	// set. Reported, never retried.
	ErrUnsupportedResource = errors.New("unsupported resource type")
	// ErrDependency marks a shared-store or bus failure that survived the
	// bounded retries.
	ErrDependency = errors.New("dependency unavailable")
	// ErrBusy means the submission semaphore could not be acquired within
	// the caller's deadline.
	ErrBusy = errors.New("server busy")
)

// Participant is one member of a collaboration session.
type Participant struct {
	UserID       uint64    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	JoinedAt     time.Time `json:"joinedAt"`
	Typing       bool      `json:"typing"`
}

// DocumentStore is the cached document tier (Redis in production).
type DocumentStore interface {
	Get(ctx context.Context, resourceType, resourceID, fieldName string) (ot.DocumentState, bool, error)
	Put(ctx context.Context, resourceType, resourceID, fieldName string, state ot.DocumentState) error
	CompareAndSet(ctx context.Context, resourceType, resourceID, fieldName string, state ot.DocumentState, expect uint64) (bool, error)
}

// DurableStore is the persistent tier behind the cache.
type DurableStore interface {
	Load(ctx context.Context, resourceType, resourceID, fieldName string) (ot.DocumentState, bool, error)
	Save(ctx context.Context, resourceType, resourceID, fieldName string, state ot.DocumentState) error
}

// HistoryStore keeps the bounded per-document operation history.
type HistoryStore interface {
	Append(ctx context.Context, resourceType, resourceID, fieldName string, entry ot.HistoryEntry) error
	Since(ctx context.Context, resourceType, resourceID, fieldName string, fromVersion uint64) ([]ot.HistoryEntry, error)
}

// SessionStore keeps the ephemeral participant map per document field.
type SessionStore interface {
	Join(ctx context.Context, resourceType, resourceID, fieldName string, p Participant) ([]Participant, error)
	Leave(ctx context.Context, resourceType, resourceID, fieldName string, userID uint64) ([]Participant, error)
	Participants(ctx context.Context, resourceType, resourceID, fieldName string) ([]Participant, error)
}

// Locker is the editing-lock surface the coordinator delegates to.
type Locker interface {
	Acquire(ctx context.Context, resourceType, resourceID, fieldName string, userID uint64) (bool, error)
	Release(ctx context.Context, resourceType, resourceID, fieldName string, userID uint64) (bool, error)
	IsLocked(ctx context.Context, resourceType, resourceID, fieldName string) (*lock.Info, error)
	ReleaseHeldBy(ctx context.Context, userID uint64)
}

// JoinResult is what a joining client needs to start editing: who is here,
// the current document, and whether the field is locked.
type JoinResult struct {
	Participants []Participant    `json:"participants"`
	Document     ot.DocumentState `json:"document"`
	Lock         *lock.Info       `json:"lock,omitempty"`
}

// Conflict carries enough state for a client to reconcile manually.
type Conflict struct {
	CurrentVersion uint64           `json:"current_version"`
	ClientVersion  uint64           `json:"client_version"`
	Document       ot.DocumentState `json:"document"`
}

// SubmitResult is the structured outcome of submit_operation. Conflicts
// are values here, not errors: the transport layer serializes them into a
// distinguishable payload so clients can refetch-and-retry.
type SubmitResult struct {
	Success   bool
	Document  ot.DocumentState
	Operation ot.Operation
	Version   uint64
	Conflict  *Conflict
}
