package registry

import (
	"errors"
	"testing"
	"time"
)

func TestRegistry_CreateAndLookup(t *testing.T) {
	r := New()
	conn := r.Create(42, ClientInfo{Browser: "firefox", IP: "10.0.0.1"})

	if conn.ID == "" {
		t.Fatal("connection ID not assigned")
	}
	if conn.Status != "online" {
		t.Fatalf("status = %q, want %q", conn.Status, "online")
	}

	got, ok := r.FindByID(conn.ID)
	if !ok {
		t.Fatal("FindByID missed a live connection")
	}
	if got.UserID != 42 || got.Client.Browser != "firefox" {
		t.Fatalf("got %+v", got)
	}

	if n := len(r.FindByUser(42)); n != 1 {
		t.Fatalf("FindByUser = %d connections, want 1", n)
	}
	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}
}

func TestRegistry_MultipleConnectionsPerUser(t *testing.T) {
	r := New()
	a := r.Create(7, ClientInfo{})
	b := r.Create(7, ClientInfo{})

	conns := r.FindByUser(7)
	if len(conns) != 2 {
		t.Fatalf("FindByUser = %d connections, want 2", len(conns))
	}

	if _, ok := r.Delete(a.ID); !ok {
		t.Fatal("delete failed")
	}
	conns = r.FindByUser(7)
	if len(conns) != 1 || conns[0].ID != b.ID {
		t.Fatalf("after delete: %+v", conns)
	}
}

func TestRegistry_SubscriptionsIdempotent(t *testing.T) {
	r := New()
	conn := r.Create(1, ClientInfo{})

	added, err := r.AddSubscription(conn.ID, "collaboration", "task", "123")
	if err != nil || !added {
		t.Fatalf("first add = (%v, %v)", added, err)
	}
	added, err = r.AddSubscription(conn.ID, "collaboration", "task", "123")
	if err != nil || added {
		t.Fatalf("second add = (%v, %v), want idempotent no-op", added, err)
	}

	key := SubscriptionKey("collaboration", "task", "123")
	if !r.HasSubscription(conn.ID, key) {
		t.Fatal("subscription missing")
	}
	if n := len(r.FindByChannelKey(key)); n != 1 {
		t.Fatalf("channel index has %d connections, want 1", n)
	}

	removed, err := r.RemoveSubscription(conn.ID, "collaboration", "task", "123")
	if err != nil || !removed {
		t.Fatalf("remove = (%v, %v)", removed, err)
	}
	removed, err = r.RemoveSubscription(conn.ID, "collaboration", "task", "123")
	if err != nil || removed {
		t.Fatalf("second remove = (%v, %v), want no-op", removed, err)
	}
	if n := len(r.FindByChannelKey(key)); n != 0 {
		t.Fatalf("channel index has %d connections after removal", n)
	}
}

func TestRegistry_UnknownConnection(t *testing.T) {
	r := New()
	if _, err := r.AddSubscription("nope", "collaboration", "task", "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := r.UpdatePing("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := r.IsStale("nope", time.Minute); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, ok := r.Delete("nope"); ok {
		t.Fatal("delete of unknown connection reported success")
	}
}

func TestRegistry_PresenceAndTypingUpdates(t *testing.T) {
	r := New()
	conn := r.Create(1, ClientInfo{})

	status := "away"
	view := "task:55"
	if err := r.UpdatePresence(conn.ID, PresenceUpdate{Status: &status, CurrentView: &view}); err != nil {
		t.Fatalf("UpdatePresence: %v", err)
	}
	got, _ := r.FindByID(conn.ID)
	if got.Status != "away" || got.CurrentView != "task:55" {
		t.Fatalf("got %+v", got)
	}

	// Partial update leaves the other field alone.
	busy := "busy"
	if err := r.UpdatePresence(conn.ID, PresenceUpdate{Status: &busy}); err != nil {
		t.Fatalf("UpdatePresence: %v", err)
	}
	got, _ = r.FindByID(conn.ID)
	if got.Status != "busy" || got.CurrentView != "task:55" {
		t.Fatalf("got %+v", got)
	}

	if err := r.UpdateTyping(conn.ID, true, "description"); err != nil {
		t.Fatalf("UpdateTyping: %v", err)
	}
	got, _ = r.FindByID(conn.ID)
	if !got.Typing.IsTyping || got.Typing.Location != "description" {
		t.Fatalf("typing = %+v", got.Typing)
	}
}

func TestRegistry_Staleness(t *testing.T) {
	r := New()
	conn := r.Create(1, ClientInfo{})

	stale, err := r.IsStale(conn.ID, time.Minute)
	if err != nil || stale {
		t.Fatalf("fresh connection reported stale (%v, %v)", stale, err)
	}

	// A zero max age makes any connection stale immediately after the
	// nanosecond its ping was stamped.
	time.Sleep(time.Millisecond)
	stale, err = r.IsStale(conn.ID, 0)
	if err != nil || !stale {
		t.Fatalf("connection not reported stale (%v, %v)", stale, err)
	}

	if got := r.Stale(0); len(got) != 1 || got[0].ID != conn.ID {
		t.Fatalf("Stale() = %+v", got)
	}
	if got := r.Stale(time.Minute); len(got) != 0 {
		t.Fatalf("Stale(1m) = %+v", got)
	}

	if err := r.UpdatePing(conn.ID); err != nil {
		t.Fatalf("UpdatePing: %v", err)
	}
	stale, _ = r.IsStale(conn.ID, time.Second)
	if stale {
		t.Fatal("pinged connection still stale")
	}
}

func TestRegistry_SnapshotsAreIsolated(t *testing.T) {
	r := New()
	conn := r.Create(1, ClientInfo{})
	if _, err := r.AddSubscription(conn.ID, "collaboration", "task", "1"); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}

	got, _ := r.FindByID(conn.ID)
	for k := range got.Subscriptions {
		delete(got.Subscriptions, k)
	}

	again, _ := r.FindByID(conn.ID)
	if len(again.Subscriptions) != 1 {
		t.Fatal("mutating a snapshot leaked into the registry")
	}
}

func TestRegistry_DeleteCleansChannelIndex(t *testing.T) {
	r := New()
	conn := r.Create(1, ClientInfo{})
	other := r.Create(2, ClientInfo{})
	key := SubscriptionKey("collaboration", "task", "9")

	if _, err := r.AddSubscription(conn.ID, "collaboration", "task", "9"); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	if _, err := r.AddSubscription(other.ID, "collaboration", "task", "9"); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}

	removed, ok := r.Delete(conn.ID)
	if !ok {
		t.Fatal("delete failed")
	}
	if len(removed.Subscriptions) != 1 {
		t.Fatalf("snapshot lost subscriptions: %+v", removed)
	}

	conns := r.FindByChannelKey(key)
	if len(conns) != 1 || conns[0].ID != other.ID {
		t.Fatalf("channel index after delete: %+v", conns)
	}
}
