package ws

import (
	"time"

	"realtimeCollab/backend/internal/collab"
	"realtimeCollab/backend/internal/lock"
	"realtimeCollab/backend/internal/ot"
)

// ClientMessage is the union of every inbound event payload; Type selects
// which fields matter.
type ClientMessage struct {
	Type string `json:"type"`

	// subscribe / unsubscribe
	Channel    string `json:"channel,omitempty"`
	ObjectType string `json:"object_type,omitempty"`
	ObjectID   string `json:"object_id,omitempty"`

	// presence
	Status string `json:"status,omitempty"`

	// typing
	IsTyping bool   `json:"isTyping,omitempty"`
	Location string `json:"location,omitempty"`

	// collaboration + locks
	ResourceType string        `json:"resource_type,omitempty"`
	ResourceID   string        `json:"resource_id,omitempty"`
	FieldName    string        `json:"field_name,omitempty"`
	Operation    *ot.Operation `json:"operation,omitempty"`
	Version      uint64        `json:"version,omitempty"`
}

type PongMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type StatusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func errorMessage(msg string) StatusMessage {
	return StatusMessage{Status: "error", Message: msg}
}

type SubscriptionAck struct {
	Status     string `json:"status"`
	Channel    string `json:"channel"`
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
}

type JoinAck struct {
	Type         string               `json:"type"`
	ResourceType string               `json:"resource_type"`
	ResourceID   string               `json:"resource_id"`
	FieldName    string               `json:"field_name"`
	Participants []collab.Participant `json:"participants"`
	Document     ot.DocumentState     `json:"document"`
	Lock         *lock.Info           `json:"lock,omitempty"`
}

type OperationAck struct {
	Success   bool             `json:"success"`
	Document  ot.DocumentState `json:"document"`
	Operation ot.Operation     `json:"operation"`
	Version   uint64           `json:"version"`
}

// ConflictMessage is distinguishable from a generic error so clients can
// implement refetch-and-retry UX for conflicts specifically.
type ConflictMessage struct {
	Success        bool             `json:"success"`
	Error          string           `json:"error"`
	CurrentVersion uint64           `json:"current_version"`
	ClientVersion  uint64           `json:"client_version"`
	Document       ot.DocumentState `json:"document"`
}

type LockAck struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
