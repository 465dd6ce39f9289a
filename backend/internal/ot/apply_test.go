package ot

import (
	"errors"
	"testing"
)

func TestApply_StringInsertDelete(t *testing.T) {
	state := DocumentState{Content: StringContent(""), Version: 0}

	state, err := Apply(state, withVersion(insertAt(0, "foo", 1), 1))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := string(state.Content.(StringContent)); got != "foo" {
		t.Fatalf("content = %q, want %q", got, "foo")
	}
	if state.Version != 1 {
		t.Fatalf("version = %d, want 1", state.Version)
	}

	state, err = Apply(state, withVersion(insertAt(3, "bar", 2), 2))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := string(state.Content.(StringContent)); got != "foobar" {
		t.Fatalf("content = %q, want %q", got, "foobar")
	}

	state, err = Apply(state, withVersion(deleteAt(0, 3, 1), 3))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := string(state.Content.(StringContent)); got != "bar" {
		t.Fatalf("content = %q, want %q", got, "bar")
	}
	if state.Version != 3 {
		t.Fatalf("version = %d, want 3", state.Version)
	}
}

func TestApply_VersionSkewRejected(t *testing.T) {
	state := DocumentState{Content: StringContent("x"), Version: 5}

	_, err := Apply(state, withVersion(insertAt(0, "y", 1), 5))
	if !errors.Is(err, ErrVersionSkew) {
		t.Fatalf("err = %v, want ErrVersionSkew", err)
	}
	_, err = Apply(state, withVersion(insertAt(0, "y", 1), 7))
	if !errors.Is(err, ErrVersionSkew) {
		t.Fatalf("err = %v, want ErrVersionSkew", err)
	}
}

func TestApply_VersionStrictlyIncreases(t *testing.T) {
	state := DocumentState{Content: StringContent(""), Version: 0}
	seen := map[uint64]bool{}
	for i := 0; i < 10; i++ {
		next, err := Apply(state, withVersion(insertAt(0, "a", 1), state.Version+1))
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if seen[next.Version] {
			t.Fatalf("version %d produced twice", next.Version)
		}
		if next.Version != state.Version+1 {
			t.Fatalf("version jumped from %d to %d", state.Version, next.Version)
		}
		seen[next.Version] = true
		state = next
	}
}

func TestApply_NoOpBumpsVersionOnly(t *testing.T) {
	state := DocumentState{Content: StringContent("keep"), Version: 2}
	next, err := Apply(state, Operation{Type: OpNoOp, Version: 3})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := string(next.Content.(StringContent)); got != "keep" {
		t.Fatalf("content changed to %q", got)
	}
	if next.Version != 3 {
		t.Fatalf("version = %d, want 3", next.Version)
	}
}

func TestApply_NilContentDefaultsToEmptyString(t *testing.T) {
	next, err := Apply(DocumentState{Version: 0}, withVersion(insertAt(0, "hi", 1), 1))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := string(next.Content.(StringContent)); got != "hi" {
		t.Fatalf("content = %q, want %q", got, "hi")
	}
}

func TestApply_List(t *testing.T) {
	state := DocumentState{Content: ListContent{"a", "c"}, Version: 0}

	state, err := Apply(state, Operation{
		Type: OpInsert, Position: IndexPosition(1), Data: Data{Content: "b"}, Version: 1,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	list := state.Content.(ListContent)
	if len(list) != 3 || list[1] != "b" {
		t.Fatalf("list = %v", list)
	}

	state, err = Apply(state, Operation{
		Type: OpUpdate, Position: IndexPosition(2), Data: Data{Content: "C"}, Version: 2,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if state.Content.(ListContent)[2] != "C" {
		t.Fatalf("list = %v", state.Content)
	}

	state, err = Apply(state, Operation{
		Type: OpDelete, Position: IndexPosition(0), Data: Data{Length: 2}, Version: 3,
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	list = state.Content.(ListContent)
	if len(list) != 1 || list[0] != "C" {
		t.Fatalf("list = %v", list)
	}
}

func TestApply_ListUpdateOutOfRange(t *testing.T) {
	state := DocumentState{Content: ListContent{"a"}, Version: 0}
	_, err := Apply(state, Operation{
		Type: OpUpdate, Position: IndexPosition(3), Data: Data{Content: "x"}, Version: 1,
	})
	if !errors.Is(err, ErrContentMismatch) {
		t.Fatalf("err = %v, want ErrContentMismatch", err)
	}
}

func TestApply_Map(t *testing.T) {
	state := DocumentState{Content: MapContent{"theme": "dark"}, Version: 0}

	state, err := Apply(state, Operation{
		Type: OpUpdate, Position: KeyPosition("lang"), Data: Data{Content: "en"}, Version: 1,
	})
	if err != nil {
		t.Fatalf("key update: %v", err)
	}
	m := state.Content.(MapContent)
	if m["lang"] != "en" || m["theme"] != "dark" {
		t.Fatalf("map = %v", m)
	}

	state, err = Apply(state, Operation{
		Type: OpUpdate, Data: Data{Content: map[string]any{"theme": "light", "zoom": 2}}, Version: 2,
	})
	if err != nil {
		t.Fatalf("field-map update: %v", err)
	}
	m = state.Content.(MapContent)
	if m["theme"] != "light" || m["zoom"] != 2 {
		t.Fatalf("map = %v", m)
	}

	state, err = Apply(state, Operation{
		Type: OpDelete, Position: KeyPosition("lang"), Version: 3,
	})
	if err != nil {
		t.Fatalf("key delete: %v", err)
	}
	if _, ok := state.Content.(MapContent)["lang"]; ok {
		t.Fatal("deleted key survived")
	}
}

func TestApply_KindMismatchRejected(t *testing.T) {
	state := DocumentState{Content: StringContent("text"), Version: 0}
	_, err := Apply(state, Operation{
		Type: OpInsert, Position: KeyPosition("k"), Data: Data{Content: "v"}, Version: 1,
	})
	if !errors.Is(err, ErrContentMismatch) {
		t.Fatalf("err = %v, want ErrContentMismatch", err)
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	orig := ListContent{"a", "b"}
	state := DocumentState{Content: orig, Version: 0}
	_, err := Apply(state, Operation{
		Type: OpUpdate, Position: IndexPosition(0), Data: Data{Content: "Z"}, Version: 1,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if orig[0] != "a" {
		t.Fatalf("input mutated: %v", orig)
	}
}
