package collab

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"realtimeCollab/backend/internal/channel"
	"realtimeCollab/backend/internal/lock"
	"realtimeCollab/backend/internal/presence"
	"realtimeCollab/backend/internal/registry"
)

// Sweeper is the periodic cleanup task the process lifecycle owns: it
// reaps connections with no ping within maxAge (cascading presence
// offline, session leave and lock release) and emits lock.expired events.
// Explicit Start/Stop; no hidden background loops.
type Sweeper struct {
	reg      *registry.Registry
	tracker  *presence.Tracker
	coord    *Coordinator
	locks    *lock.Manager
	fanout   *channel.Fanout
	interval time.Duration
	maxAge   time.Duration
	log      zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

func NewSweeper(
	reg *registry.Registry,
	tracker *presence.Tracker,
	coord *Coordinator,
	locks *lock.Manager,
	fanout *channel.Fanout,
	interval, maxAge time.Duration,
	log zerolog.Logger,
) *Sweeper {
	if maxAge <= 0 {
		maxAge = 300 * time.Second
	}
	if interval <= 0 {
		interval = maxAge
	}
	return &Sweeper{
		reg:      reg,
		tracker:  tracker,
		coord:    coord,
		locks:    locks,
		fanout:   fanout,
		interval: interval,
		maxAge:   maxAge,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.run()
}

// Stop blocks until the loop has exited; safe to call once.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Sweep runs one pass. Each eviction's cleanup steps are attempted
// independently so one failure never strands the rest.
func (s *Sweeper) Sweep(ctx context.Context) {
	for _, conn := range s.reg.Stale(s.maxAge) {
		removed, ok := s.reg.Delete(conn.ID)
		if !ok {
			continue
		}
		s.log.Info().
			Str("connectionId", removed.ID).
			Uint64("userId", removed.UserID).
			Time("lastPing", removed.LastPing).
			Msg("reaping stale connection")

		s.fanout.Unregister(removed.ID)
		s.tracker.HandleDisconnect(ctx, removed)
		s.coord.HandleDisconnect(ctx, removed)
	}

	if s.locks != nil {
		s.locks.SweepExpired(ctx)
	}
}
