package collab

import (
	"context"
	"errors"
)

// Semaphore caps how many operation submissions run OT work at once. A
// caller that cannot acquire a slot within its context deadline backs off
// instead of piling up.
type Semaphore struct {
	ch chan struct{}
}

func NewSemaphore(max int) *Semaphore {
	if max <= 0 {
		max = 100
	}
	return &Semaphore{ch: make(chan struct{}, max)}
}

func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Semaphore) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return errors.New("release without acquire")
	}
}
