package presence

import "time"

// Status is a user's presence status. Aggregation picks the highest
// priority status across the user's connections.
type Status string

const (
	StatusOnline  Status = "online"
	StatusBusy    Status = "busy"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

func Valid(s Status) bool {
	switch s {
	case StatusOnline, StatusBusy, StatusAway, StatusOffline:
		return true
	}
	return false
}

func priority(s Status) int {
	switch s {
	case StatusOnline:
		return 3
	case StatusBusy:
		return 2
	case StatusAway:
		return 1
	default:
		return 0
	}
}

// UserPresence is the aggregate computed from all of a user's live
// connections. It is derived state, never stored as its own entity.
type UserPresence struct {
	UserID          uint64    `json:"userId"`
	Status          Status    `json:"status"`
	LastActivity    time.Time `json:"lastActivity"`
	ConnectionCount int       `json:"connectionCount"`
}
