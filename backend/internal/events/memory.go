package events

import (
	"context"
	"sync"
	"time"
)

// MemoryBus collects events in-process. Used by tests and as a stand-in
// when no broker is configured.
type MemoryBus struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(_ context.Context, evt Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}

func (b *MemoryBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Named filters the recorded events by name.
func (b *MemoryBus) Named(name string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, evt := range b.events {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}
