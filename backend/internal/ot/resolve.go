package ot

import (
	"sort"
	"unicode/utf8"
)

// HistoryEntry is one applied operation in a document's bounded history.
// For string documents it carries a capped post-apply snapshot, which the
// merge fallback uses as the three-way base.
type HistoryEntry struct {
	Operation   Operation `json:"operation"`
	Snapshot    string    `json:"snapshot,omitempty"`
	HasSnapshot bool      `json:"hasSnapshot"`
}

// SnapshotCap bounds the post-apply snapshot stored per history entry.
const SnapshotCap = 64 * 1024

// Strategy records which resolution step produced the operation.
type Strategy string

const (
	StrategyDirect    Strategy = "direct"
	StrategyTransform Strategy = "transform"
	StrategyMerge     Strategy = "merge"
)

// Resolution is the successful outcome of conflict resolution: the
// operation to apply, and how it was obtained.
type Resolution struct {
	Op       Operation
	Strategy Strategy
}

// Resolve reconciles an operation computed against clientVersion with a
// document already at state.Version. It is an explicit three-step chain:
// transform against the concurrent history, then a three-way text merge
// for string content, then failure. ok=false means the caller must report
// a conflict carrying the current version and document.
func Resolve(op Operation, clientVersion uint64, state DocumentState, history []HistoryEntry) (Resolution, bool) {
	if clientVersion == state.Version {
		return Resolution{Op: op, Strategy: StrategyDirect}, true
	}
	if clientVersion > state.Version {
		return Resolution{}, false
	}

	concurrent := concurrentSince(history, clientVersion)

	// Step 1: operational transformation, oldest first. A contiguous run
	// of history is required; gaps mean the window was evicted.
	if covers(concurrent, clientVersion, state.Version) {
		transformed, ok := transformAgainst(op, concurrent)
		if ok {
			return Resolution{Op: transformed, Strategy: StrategyTransform}, true
		}
	}

	// Step 2: textual three-way merge, string content only.
	if merged, ok := mergeAgainst(op, clientVersion, state, history); ok {
		return Resolution{Op: merged, Strategy: StrategyMerge}, true
	}

	// Step 3: irreconcilable; the client must refetch and reapply.
	return Resolution{}, false
}

// transformAgainst folds op through each concurrent operation in version
// order. A delete collapsing to length 0 is the irreconcilable signal.
func transformAgainst(op Operation, concurrent []HistoryEntry) (Operation, bool) {
	for _, entry := range concurrent {
		op = Transform(op, entry.Operation)
		if op.Type == OpDelete && op.Data.Length == 0 {
			return Operation{}, false
		}
	}
	return op, true
}

func mergeAgainst(op Operation, clientVersion uint64, state DocumentState, history []HistoryEntry) (Operation, bool) {
	current, ok := state.Content.(StringContent)
	if !ok {
		return Operation{}, false
	}
	base, ok := baseSnapshot(history, clientVersion)
	if !ok {
		return Operation{}, false
	}

	// Reconstruct what the client wanted the document to become by
	// replaying its operation against the base it was computed from.
	desiredState, err := Apply(
		DocumentState{Content: StringContent(base), Version: clientVersion},
		withVersion(op, clientVersion+1),
	)
	if err != nil {
		return Operation{}, false
	}
	desired, ok := desiredState.Content.(StringContent)
	if !ok {
		return Operation{}, false
	}

	merged, ok := mergeText(base, string(current), string(desired))
	if !ok {
		return Operation{}, false
	}

	out := op
	out.Type = OpReplace
	out.Position = IndexPosition(0)
	out.Data = Data{Content: merged}
	return out, true
}

// baseSnapshot recovers the string content at the given version: the
// post-apply snapshot of the history entry that produced it, or the empty
// document for version 0.
func baseSnapshot(history []HistoryEntry, version uint64) (string, bool) {
	if version == 0 {
		return "", true
	}
	for _, entry := range history {
		if entry.Operation.Version == version {
			if !entry.HasSnapshot {
				return "", false
			}
			return entry.Snapshot, true
		}
	}
	return "", false
}

func concurrentSince(history []HistoryEntry, fromVersion uint64) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(history))
	for _, entry := range history {
		if entry.Operation.Version > fromVersion {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Operation.Version < out[j].Operation.Version
	})
	return out
}

// covers reports whether entries form the contiguous version run
// (from, to].
func covers(entries []HistoryEntry, from, to uint64) bool {
	if uint64(len(entries)) != to-from {
		return false
	}
	want := from + 1
	for _, entry := range entries {
		if entry.Operation.Version != want {
			return false
		}
		want++
	}
	return true
}

// SnapshotOf returns the history snapshot for a freshly applied state:
// string content within the cap, or absent.
func SnapshotOf(state DocumentState) (string, bool) {
	s, ok := state.Content.(StringContent)
	if !ok {
		return "", false
	}
	if len(s) > SnapshotCap || !utf8.ValidString(string(s)) {
		return "", false
	}
	return string(s), true
}

func withVersion(op Operation, v uint64) Operation {
	op.Version = v
	return op
}
