package ot

import (
	"strings"
	"testing"
)

func historyOf(t *testing.T, ops ...Operation) (DocumentState, []HistoryEntry) {
	t.Helper()
	state := DocumentState{Content: StringContent(""), Version: 0}
	history := make([]HistoryEntry, 0, len(ops))
	for _, op := range ops {
		next, err := Apply(state, withVersion(op, state.Version+1))
		if err != nil {
			t.Fatalf("history apply: %v", err)
		}
		entry := HistoryEntry{Operation: withVersion(op, next.Version)}
		if snap, ok := SnapshotOf(next); ok {
			entry.Snapshot = snap
			entry.HasSnapshot = true
		}
		history = append(history, entry)
		state = next
	}
	return state, history
}

func TestResolve_DirectWhenVersionsMatch(t *testing.T) {
	state := DocumentState{Content: StringContent("abc"), Version: 4}
	op := insertAt(1, "x", 1)

	res, ok := Resolve(op, 4, state, nil)
	if !ok {
		t.Fatal("resolve failed")
	}
	if res.Strategy != StrategyDirect {
		t.Fatalf("strategy = %s, want %s", res.Strategy, StrategyDirect)
	}
	if res.Op.Position.Index != 1 {
		t.Fatalf("op altered: %+v", res.Op)
	}
}

func TestResolve_ClientAheadFails(t *testing.T) {
	state := DocumentState{Content: StringContent("abc"), Version: 2}
	if _, ok := Resolve(insertAt(0, "x", 1), 5, state, nil); ok {
		t.Fatal("client version ahead of server must not resolve")
	}
}

func TestResolve_TransformsAgainstConcurrentHistory(t *testing.T) {
	// Two clients both start from the empty document. User 1's "foo" lands
	// first; user 2's "bar" at position 0 transforms to position 3.
	state, history := historyOf(t, insertAt(0, "foo", 1))

	res, ok := Resolve(insertAt(0, "bar", 2), 0, state, history)
	if !ok {
		t.Fatal("resolve failed")
	}
	if res.Strategy != StrategyTransform {
		t.Fatalf("strategy = %s, want %s", res.Strategy, StrategyTransform)
	}
	if res.Op.Position.Index != 3 {
		t.Fatalf("transformed position = %d, want 3", res.Op.Position.Index)
	}

	next, err := Apply(state, withVersion(res.Op, state.Version+1))
	if err != nil {
		t.Fatalf("apply resolved: %v", err)
	}
	if got := string(next.Content.(StringContent)); got != "foobar" {
		t.Fatalf("content = %q, want %q", got, "foobar")
	}
	if next.Version != 2 {
		t.Fatalf("version = %d, want 2", next.Version)
	}
}

func TestResolve_TransformChainOverMultipleVersions(t *testing.T) {
	state, history := historyOf(t,
		insertAt(0, "hello", 1),
		insertAt(5, " world", 1),
	)

	res, ok := Resolve(insertAt(0, ">", 2), 0, state, history)
	if !ok {
		t.Fatal("resolve failed")
	}
	next, err := Apply(state, withVersion(res.Op, state.Version+1))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	// User 1 holds both left slots at position 0.
	if got := string(next.Content.(StringContent)); got != "hello world>" {
		t.Fatalf("content = %q", got)
	}
}

func TestResolve_CollapsedDeleteFallsBackToMerge(t *testing.T) {
	// A delete fully shadowed by a concurrent delete collapses to length 0;
	// step one rejects it and the text merge takes over. Both clients
	// removed the same span, so the merged document is the current one.
	state, history := historyOf(t,
		insertAt(0, "abcdef", 1),
		deleteAt(2, 2, 1),
	)

	res, ok := Resolve(deleteAt(2, 2, 2), 1, state, history)
	if !ok {
		t.Fatal("resolve failed")
	}
	if res.Strategy != StrategyMerge {
		t.Fatalf("strategy = %s, want %s", res.Strategy, StrategyMerge)
	}
	next, err := Apply(state, withVersion(res.Op, state.Version+1))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := string(next.Content.(StringContent)); got != "abef" {
		t.Fatalf("content = %q, want %q", got, "abef")
	}
}

func TestResolve_GapInHistoryUsesMerge(t *testing.T) {
	// Version 1 was evicted, so transformation cannot cover (0, 2]. The
	// merge fallback still works from the version-0 empty base.
	state, history := historyOf(t,
		insertAt(0, "alpha", 1),
		insertAt(5, " beta", 1),
	)
	trimmed := history[1:]

	res, ok := Resolve(insertAt(0, "x", 2), 0, state, trimmed)
	if !ok {
		t.Fatal("resolve failed")
	}
	if res.Strategy != StrategyMerge {
		t.Fatalf("strategy = %s, want %s", res.Strategy, StrategyMerge)
	}
	next, err := Apply(state, withVersion(res.Op, state.Version+1))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := string(next.Content.(StringContent)); got != "alpha betax" {
		t.Fatalf("content = %q", got)
	}
}

func TestResolve_IrreconcilableConflict(t *testing.T) {
	// Non-string content with missing history coverage has no fallback.
	state := DocumentState{Content: ListContent{"a"}, Version: 3}
	op := Operation{Type: OpInsert, Position: IndexPosition(0), Data: Data{Content: "x"}, UserID: 2}

	if _, ok := Resolve(op, 1, state, nil); ok {
		t.Fatal("expected unresolvable conflict")
	}
}

func TestSnapshotOf(t *testing.T) {
	if snap, ok := SnapshotOf(DocumentState{Content: StringContent("hello"), Version: 1}); !ok || snap != "hello" {
		t.Fatalf("got (%q, %v)", snap, ok)
	}
	if _, ok := SnapshotOf(DocumentState{Content: ListContent{"a"}, Version: 1}); ok {
		t.Fatal("list content must not snapshot")
	}
	big := strings.Repeat("x", SnapshotCap+1)
	if _, ok := SnapshotOf(DocumentState{Content: StringContent(big), Version: 1}); ok {
		t.Fatal("oversized content must not snapshot")
	}
}

func TestCovers(t *testing.T) {
	_, history := historyOf(t,
		insertAt(0, "a", 1),
		insertAt(1, "b", 1),
		insertAt(2, "c", 1),
	)
	if !covers(history, 0, 3) {
		t.Fatal("full run should cover (0, 3]")
	}
	if covers(history[1:], 0, 3) {
		t.Fatal("run with a leading gap must not cover (0, 3]")
	}
	if !covers(history[1:], 1, 3) {
		t.Fatal("suffix run should cover (1, 3]")
	}
}
