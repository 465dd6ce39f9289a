package ot

import (
	"testing"
	"time"
)

func insertAt(pos int, text string, userID uint64) Operation {
	return Operation{
		Type:     OpInsert,
		Position: IndexPosition(pos),
		Data:     Data{Content: text},
		UserID:   userID,
	}
}

func deleteAt(pos, length int, userID uint64) Operation {
	return Operation{
		Type:     OpDelete,
		Position: IndexPosition(pos),
		Data:     Data{Length: length},
		UserID:   userID,
	}
}

func TestTransform_InsertInsert_ShiftsRight(t *testing.T) {
	cases := []struct {
		name       string
		opPos      int
		conPos     int
		conText    string
		wantOpPos  int
	}{
		{"concurrent strictly before", 10, 3, "abc", 13},
		{"concurrent at zero", 5, 0, "xy", 7},
		{"concurrent after leaves op alone", 2, 7, "abc", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op := insertAt(tc.opPos, "zzz", 2)
			con := insertAt(tc.conPos, tc.conText, 1)
			got := Transform(op, con)
			if got.Position.Index != tc.wantOpPos {
				t.Fatalf("position = %d, want %d", got.Position.Index, tc.wantOpPos)
			}
		})
	}
}

func TestTransform_InsertInsert_SamePositionTieBreak(t *testing.T) {
	// The lower user ID keeps the left slot. Transforming the higher ID's
	// insert against the lower's shifts it right; the reverse does not.
	higher := insertAt(0, "bar", 2)
	lower := insertAt(0, "foo", 1)

	got := Transform(higher, lower)
	if got.Position.Index != 3 {
		t.Fatalf("higher user shifted to %d, want 3", got.Position.Index)
	}

	got = Transform(lower, higher)
	if got.Position.Index != 0 {
		t.Fatalf("lower user shifted to %d, want 0", got.Position.Index)
	}
}

func TestTransform_InsertDelete(t *testing.T) {
	cases := []struct {
		name    string
		opPos   int
		delPos  int
		delLen  int
		wantPos int
	}{
		{"after deleted range shifts left", 10, 2, 4, 6},
		{"inside deleted range clamps to start", 4, 2, 5, 2},
		{"before deleted range untouched", 1, 3, 4, 1},
		{"at range start untouched", 3, 3, 4, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op := insertAt(tc.opPos, "x", 1)
			con := deleteAt(tc.delPos, tc.delLen, 2)
			got := Transform(op, con)
			if got.Position.Index != tc.wantPos {
				t.Fatalf("position = %d, want %d", got.Position.Index, tc.wantPos)
			}
		})
	}
}

func TestTransform_DeleteInsert(t *testing.T) {
	op := deleteAt(5, 3, 1)
	con := insertAt(2, "ab", 2)
	got := Transform(op, con)
	if got.Position.Index != 7 {
		t.Fatalf("position = %d, want 7", got.Position.Index)
	}

	op = deleteAt(1, 3, 1)
	con = insertAt(4, "ab", 2)
	got = Transform(op, con)
	if got.Position.Index != 1 {
		t.Fatalf("position = %d, want 1", got.Position.Index)
	}
}

func TestTransform_DeleteDelete(t *testing.T) {
	cases := []struct {
		name     string
		op       Operation
		con      Operation
		wantPos  int
		wantLen  int
	}{
		{"concurrent entirely before", deleteAt(10, 3, 1), deleteAt(2, 4, 2), 6, 3},
		{"concurrent entirely after", deleteAt(2, 3, 1), deleteAt(8, 4, 2), 2, 3},
		{"concurrent fully contains op", deleteAt(4, 2, 1), deleteAt(2, 6, 2), 2, 0},
		{"identical ranges collapse", deleteAt(3, 4, 1), deleteAt(3, 4, 2), 3, 0},
		{"op fully contains concurrent", deleteAt(2, 8, 1), deleteAt(4, 3, 2), 2, 5},
		{"overlap at op start", deleteAt(5, 4, 1), deleteAt(3, 4, 2), 3, 2},
		{"overlap at op end", deleteAt(3, 4, 1), deleteAt(5, 4, 2), 3, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Transform(tc.op, tc.con)
			if got.Position.Index != tc.wantPos || got.Data.Length != tc.wantLen {
				t.Fatalf("got (pos=%d len=%d), want (pos=%d len=%d)",
					got.Position.Index, got.Data.Length, tc.wantPos, tc.wantLen)
			}
		})
	}
}

func TestTransform_UpdateUpdate_ScalarLastWriterWins(t *testing.T) {
	early := Operation{
		Type:      OpUpdate,
		Position:  IndexPosition(0),
		Data:      Data{Content: "first"},
		UserID:    1,
		Timestamp: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	late := Operation{
		Type:      OpUpdate,
		Position:  IndexPosition(0),
		Data:      Data{Content: "second"},
		UserID:    2,
		Timestamp: time.Date(2025, 5, 1, 10, 0, 1, 0, time.UTC),
	}

	got := Transform(early, late)
	if got.Type != OpNoOp {
		t.Fatalf("earlier update type = %s, want %s", got.Type, OpNoOp)
	}
	if got.Data.Content != nil {
		t.Fatalf("losing update kept content %v", got.Data.Content)
	}

	got = Transform(late, early)
	if got.Type != OpUpdate || got.Data.Content != "second" {
		t.Fatalf("later update was altered: %+v", got)
	}
}

func TestTransform_UpdateUpdate_TimestampTieUserID(t *testing.T) {
	ts := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	a := Operation{Type: OpUpdate, Data: Data{Content: "a"}, UserID: 1, Timestamp: ts}
	b := Operation{Type: OpUpdate, Data: Data{Content: "b"}, UserID: 2, Timestamp: ts}

	if got := Transform(a, b); got.Type != OpNoOp {
		t.Fatalf("lower user should lose the tie, got type %s", got.Type)
	}
	if got := Transform(b, a); got.Type != OpUpdate {
		t.Fatalf("higher user should win the tie, got type %s", got.Type)
	}
}

func TestTransform_UpdateUpdate_FieldLevelMerge(t *testing.T) {
	early := Operation{
		Type:      OpUpdate,
		Data:      Data{Content: map[string]any{"color": "red", "size": "large"}},
		UserID:    1,
		Timestamp: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	late := Operation{
		Type:      OpUpdate,
		Data:      Data{Content: map[string]any{"color": "blue"}},
		UserID:    2,
		Timestamp: time.Date(2025, 5, 1, 10, 0, 5, 0, time.UTC),
	}

	got := Transform(early, late)
	fields, ok := got.Data.Content.(map[string]any)
	if !ok {
		t.Fatalf("content is %T, want map", got.Data.Content)
	}
	if _, clash := fields["color"]; clash {
		t.Fatal("losing update kept the clashing field")
	}
	if fields["size"] != "large" {
		t.Fatalf("non-clashing field lost: %v", fields)
	}
}

func TestTransform_UpdateUpdate_AllFieldsClashBecomesNoOp(t *testing.T) {
	early := Operation{
		Type:      OpUpdate,
		Data:      Data{Content: map[string]any{"color": "red"}},
		UserID:    1,
		Timestamp: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	late := Operation{
		Type:      OpUpdate,
		Data:      Data{Content: map[string]any{"color": "blue"}},
		UserID:    2,
		Timestamp: time.Date(2025, 5, 1, 10, 0, 5, 0, time.UTC),
	}

	if got := Transform(early, late); got.Type != OpNoOp {
		t.Fatalf("type = %s, want %s", got.Type, OpNoOp)
	}
}

func TestTransform_RoundTripConvergence(t *testing.T) {
	// Disjoint inserts applied in either real-world order converge on the
	// same document once the trailing operation is transformed.
	base := DocumentState{Content: StringContent("hello world"), Version: 0}
	op1 := insertAt(0, ">> ", 1)
	op2 := insertAt(11, "!", 2)

	s1, err := Apply(base, withVersion(op1, 1))
	if err != nil {
		t.Fatalf("apply op1: %v", err)
	}
	s1, err = Apply(s1, withVersion(Transform(op2, op1), 2))
	if err != nil {
		t.Fatalf("apply transformed op2: %v", err)
	}

	s2, err := Apply(base, withVersion(op2, 1))
	if err != nil {
		t.Fatalf("apply op2: %v", err)
	}
	s2, err = Apply(s2, withVersion(Transform(op1, op2), 2))
	if err != nil {
		t.Fatalf("apply transformed op1: %v", err)
	}

	if s1.Content != s2.Content {
		t.Fatalf("orders diverged: %q vs %q", s1.Content, s2.Content)
	}
	if got := string(s1.Content.(StringContent)); got != ">> hello world!" {
		t.Fatalf("content = %q, want %q", got, ">> hello world!")
	}
}

func TestTransform_UnrelatedPairPassesThrough(t *testing.T) {
	op := insertAt(3, "x", 1)
	con := Operation{Type: OpReplace, Position: IndexPosition(0), Data: Data{Content: "whole"}, UserID: 2}
	got := Transform(op, con)
	if got.Position.Index != 3 || got.Type != OpInsert {
		t.Fatalf("pass-through altered op: %+v", got)
	}
}
