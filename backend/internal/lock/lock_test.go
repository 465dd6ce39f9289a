package lock

import (
	"context"
	"fmt"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"realtimeCollab/backend/internal/events"
)

func testManager(t *testing.T) (*Manager, *events.MemoryBus) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	bus := events.NewMemoryBus()
	return NewManager(rdb, 30*time.Second, bus, zerolog.Nop()), bus
}

// uniqueResource keeps parallel test runs from fighting over keys.
func uniqueResource(t *testing.T) string {
	return fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestLock_MutualExclusion(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	rid := uniqueResource(t)

	ok, err := m.Acquire(ctx, "task", rid, "description", 1)
	if err != nil || !ok {
		t.Fatalf("first acquire = (%v, %v)", ok, err)
	}
	ok, err = m.Acquire(ctx, "task", rid, "description", 2)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("two users hold the same lock")
	}

	// Another field on the same resource is a different lock.
	ok, err = m.Acquire(ctx, "task", rid, "title", 2)
	if err != nil || !ok {
		t.Fatalf("other-field acquire = (%v, %v)", ok, err)
	}
}

func TestLock_SelfReacquisitionRefreshes(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	rid := uniqueResource(t)

	for i := 0; i < 3; i++ {
		ok, err := m.Acquire(ctx, "task", rid, "description", 1)
		if err != nil || !ok {
			t.Fatalf("acquire %d = (%v, %v)", i, ok, err)
		}
	}

	info, err := m.IsLocked(ctx, "task", rid, "description")
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if info == nil || info.UserID != 1 {
		t.Fatalf("holder = %+v", info)
	}
}

func TestLock_ReleaseHandoff(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	rid := uniqueResource(t)

	if ok, _ := m.Acquire(ctx, "task", rid, "description", 1); !ok {
		t.Fatal("user 1 could not acquire")
	}
	if ok, _ := m.Acquire(ctx, "task", rid, "description", 2); ok {
		t.Fatal("user 2 acquired a held lock")
	}

	released, err := m.Release(ctx, "task", rid, "description", 1)
	if err != nil || !released {
		t.Fatalf("release = (%v, %v)", released, err)
	}

	if ok, _ := m.Acquire(ctx, "task", rid, "description", 2); !ok {
		t.Fatal("user 2 could not acquire after release")
	}
}

func TestLock_ReleaseRules(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	rid := uniqueResource(t)

	// Releasing a lock nobody holds succeeds.
	ok, err := m.Release(ctx, "task", rid, "description", 1)
	if err != nil || !ok {
		t.Fatalf("release of free lock = (%v, %v)", ok, err)
	}

	// Releasing someone else's lock fails and leaves it held.
	if ok, _ := m.Acquire(ctx, "task", rid, "description", 1); !ok {
		t.Fatal("acquire failed")
	}
	ok, err = m.Release(ctx, "task", rid, "description", 2)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok {
		t.Fatal("non-holder released the lock")
	}
	info, _ := m.IsLocked(ctx, "task", rid, "description")
	if info == nil || info.UserID != 1 {
		t.Fatalf("holder after failed release = %+v", info)
	}
}

func TestLock_IsLockedFreeKey(t *testing.T) {
	m, _ := testManager(t)
	info, err := m.IsLocked(context.Background(), "task", uniqueResource(t), "description")
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if info != nil {
		t.Fatalf("free lock reported holder %+v", info)
	}
}

func TestLock_ReleaseHeldByFreesAll(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	a := uniqueResource(t)
	b := uniqueResource(t) + "b"

	if ok, _ := m.Acquire(ctx, "task", a, "description", 5); !ok {
		t.Fatal("acquire a failed")
	}
	if ok, _ := m.Acquire(ctx, "project", b, "title", 5); !ok {
		t.Fatal("acquire b failed")
	}
	if ok, _ := m.Acquire(ctx, "task", a, "title", 6); !ok {
		t.Fatal("acquire by other user failed")
	}

	m.ReleaseHeldBy(ctx, 5)

	if info, _ := m.IsLocked(ctx, "task", a, "description"); info != nil {
		t.Fatalf("lock a still held: %+v", info)
	}
	if info, _ := m.IsLocked(ctx, "project", b, "title"); info != nil {
		t.Fatalf("lock b still held: %+v", info)
	}
	if info, _ := m.IsLocked(ctx, "task", a, "title"); info == nil || info.UserID != 6 {
		t.Fatalf("other user's lock disturbed: %+v", info)
	}
}

func TestLock_EventsPublished(t *testing.T) {
	m, bus := testManager(t)
	ctx := context.Background()
	rid := uniqueResource(t)

	if ok, _ := m.Acquire(ctx, "task", rid, "description", 1); !ok {
		t.Fatal("acquire failed")
	}
	if ok, _ := m.Release(ctx, "task", rid, "description", 1); !ok {
		t.Fatal("release failed")
	}

	if n := len(bus.Named(events.LockAcquired)); n != 1 {
		t.Fatalf("acquired events = %d, want 1", n)
	}
	if n := len(bus.Named(events.LockReleased)); n != 1 {
		t.Fatalf("released events = %d, want 1", n)
	}
	// A failed acquire publishes nothing.
	if ok, _ := m.Acquire(ctx, "task", rid, "description", 1); !ok {
		t.Fatal("re-acquire failed")
	}
	if ok, _ := m.Acquire(ctx, "task", rid, "description", 2); ok {
		t.Fatal("contended acquire succeeded")
	}
	if n := len(bus.Named(events.LockAcquired)); n != 2 {
		t.Fatalf("acquired events = %d, want 2", n)
	}
}
