package ot

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

type OpType string

const (
	OpInsert  OpType = "insert"
	OpDelete  OpType = "delete"
	OpUpdate  OpType = "update"
	OpReplace OpType = "replace"
	// OpNoOp marks an operation that lost a last-writer-wins conflict.
	// Applying it bumps the version without touching content.
	OpNoOp OpType = "noop"
)

// Position addresses either an index into string/list content or a key in
// map content. On the wire it is a bare integer or a bare string.
type Position struct {
	Index int
	Key   string
	IsKey bool
}

func IndexPosition(i int) Position  { return Position{Index: i} }
func KeyPosition(k string) Position { return Position{Key: k, IsKey: true} }

func (p Position) MarshalJSON() ([]byte, error) {
	if p.IsKey {
		return json.Marshal(p.Key)
	}
	return json.Marshal(p.Index)
}

func (p *Position) UnmarshalJSON(b []byte) error {
	var i int
	if err := json.Unmarshal(b, &i); err == nil {
		*p = Position{Index: i}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = Position{Key: s, IsKey: true}
		return nil
	}
	return fmt.Errorf("position must be an integer index or a string key")
}

// Data is the operation payload. Insert/update/replace carry Content,
// delete carries Length.
type Data struct {
	Content any `json:"content,omitempty"`
	Length  int `json:"length,omitempty"`
}

type Operation struct {
	ID        string    `json:"id,omitempty"`
	Type      OpType    `json:"type"`
	Position  Position  `json:"position"`
	Data      Data      `json:"data"`
	UserID    uint64    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	// Version is the document version this operation produces once applied.
	Version uint64 `json:"version,omitempty"`
}

// contentLength is the number of positions an insert shifts later
// operations by: rune count for text, one slot for a list element.
func contentLength(op Operation) int {
	switch c := op.Data.Content.(type) {
	case string:
		return utf8.RuneCountInString(c)
	case nil:
		return 0
	default:
		return 1
	}
}

// after reports whether a comes strictly after b in the last-writer-wins
// order, tie-broken by user ID so every replica agrees.
func after(a, b Operation) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.UserID > b.UserID
}
