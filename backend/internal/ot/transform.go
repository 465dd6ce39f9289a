package ot

// Transform rewrites op so it can be applied immediately after concurrent
// has already been applied, preserving the editor's intent. Type pairs
// without a rule pass through unmodified.
func Transform(op, concurrent Operation) Operation {
	// Key-addressed (map) positions only interact through update/update.
	if op.Position.IsKey || concurrent.Position.IsKey {
		if op.Type == OpUpdate && concurrent.Type == OpUpdate {
			return transformUpdateUpdate(op, concurrent)
		}
		return op
	}

	switch {
	case op.Type == OpInsert && concurrent.Type == OpInsert:
		return transformInsertInsert(op, concurrent)
	case op.Type == OpInsert && concurrent.Type == OpDelete:
		return transformInsertDelete(op, concurrent)
	case op.Type == OpDelete && concurrent.Type == OpInsert:
		return transformDeleteInsert(op, concurrent)
	case op.Type == OpDelete && concurrent.Type == OpDelete:
		return transformDeleteDelete(op, concurrent)
	case op.Type == OpUpdate && concurrent.Type == OpUpdate:
		return transformUpdateUpdate(op, concurrent)
	default:
		return op
	}
}

func transformInsertInsert(op, concurrent Operation) Operation {
	shift := contentLength(concurrent)
	switch {
	case concurrent.Position.Index < op.Position.Index:
		op.Position.Index += shift
	case concurrent.Position.Index == op.Position.Index && concurrent.UserID <= op.UserID:
		// Same-position tie-break: the lower user ID keeps the left slot,
		// so every replica converges on the same ordering.
		op.Position.Index += shift
	}
	return op
}

func transformInsertDelete(op, concurrent Operation) Operation {
	start := concurrent.Position.Index
	end := start + concurrent.Data.Length
	switch {
	case op.Position.Index >= end:
		op.Position.Index -= concurrent.Data.Length
	case op.Position.Index > start:
		// Insertion point fell inside the deleted range: clamp to its start.
		op.Position.Index = start
	}
	return op
}

func transformDeleteInsert(op, concurrent Operation) Operation {
	if op.Position.Index >= concurrent.Position.Index {
		op.Position.Index += contentLength(concurrent)
	}
	return op
}

func transformDeleteDelete(op, concurrent Operation) Operation {
	a, n := op.Position.Index, op.Data.Length
	b, m := concurrent.Position.Index, concurrent.Data.Length
	switch {
	case b+m <= a:
		// Concurrent delete entirely before: shift left.
		op.Position.Index = a - m
	case b >= a+n:
		// Entirely after: untouched.
	case b <= a && b+m >= a+n:
		// Concurrent fully contains op: nothing left to delete. Length 0 is
		// the detectable no-op signal conflict resolution keys off.
		op.Position.Index = b
		op.Data.Length = 0
	case a <= b && a+n >= b+m:
		// Op fully contains concurrent: the middle is already gone.
		op.Data.Length = n - m
	case b < a:
		// Partial overlap at op's start.
		overlap := b + m - a
		op.Position.Index = b
		op.Data.Length = n - overlap
	default:
		// Partial overlap at op's end.
		overlap := a + n - b
		op.Data.Length = n - overlap
	}
	return op
}

func transformUpdateUpdate(op, concurrent Operation) Operation {
	opFields, opIsMap := op.Data.Content.(map[string]any)
	conFields, conIsMap := concurrent.Data.Content.(map[string]any)

	if opIsMap && conIsMap {
		// Field-level last-writer-wins: the earlier operation drops every
		// field the later one also touched.
		if after(op, concurrent) {
			return op
		}
		kept := make(map[string]any, len(opFields))
		for k, v := range opFields {
			if _, clash := conFields[k]; !clash {
				kept[k] = v
			}
		}
		if len(kept) == 0 {
			op.Type = OpNoOp
			op.Data = Data{}
			return op
		}
		op.Data.Content = kept
		return op
	}

	// Scalar update: whole-operation last-writer-wins.
	if after(op, concurrent) {
		return op
	}
	op.Type = OpNoOp
	op.Data = Data{}
	return op
}
