package ot

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionSkew means the caller assigned an operation version that is
	// not exactly one past the document version.
	ErrVersionSkew = errors.New("operation version must be document version + 1")
	// ErrContentMismatch means the operation targets a content kind the
	// document does not have.
	ErrContentMismatch = errors.New("operation incompatible with document content type")
)

// Apply is a pure function from (document, operation) to the next document
// state. It never mutates its inputs. The caller assigns op.Version; it
// must be exactly state.Version+1.
func Apply(state DocumentState, op Operation) (DocumentState, error) {
	if op.Version != state.Version+1 {
		return DocumentState{}, fmt.Errorf("%w: doc=%d op=%d", ErrVersionSkew, state.Version, op.Version)
	}
	if state.Content == nil {
		state.Content = StringContent("")
	}

	if op.Type == OpNoOp {
		return DocumentState{Content: state.Content, Version: op.Version}, nil
	}

	var (
		next Content
		err  error
	)
	switch c := state.Content.(type) {
	case StringContent:
		next, err = applyString(c, op)
	case ListContent:
		next, err = applyList(c, op)
	case MapContent:
		next, err = applyMap(c, op)
	default:
		err = fmt.Errorf("%w: unknown content kind", ErrContentMismatch)
	}
	if err != nil {
		return DocumentState{}, err
	}
	return DocumentState{Content: next, Version: op.Version}, nil
}

func applyString(c StringContent, op Operation) (Content, error) {
	if op.Position.IsKey {
		return nil, fmt.Errorf("%w: key position on string content", ErrContentMismatch)
	}
	switch op.Type {
	case OpInsert:
		text, ok := op.Data.Content.(string)
		if !ok {
			return nil, fmt.Errorf("%w: string insert requires text content", ErrContentMismatch)
		}
		pt := newPieceTable(string(c))
		pt.Insert(op.Position.Index, text)
		return StringContent(pt.String()), nil
	case OpDelete:
		pt := newPieceTable(string(c))
		pt.Delete(op.Position.Index, op.Data.Length)
		return StringContent(pt.String()), nil
	case OpUpdate, OpReplace:
		text, ok := op.Data.Content.(string)
		if !ok {
			return nil, fmt.Errorf("%w: string %s requires text content", ErrContentMismatch, op.Type)
		}
		return StringContent(text), nil
	default:
		return nil, fmt.Errorf("%w: %s on string content", ErrContentMismatch, op.Type)
	}
}

func applyList(c ListContent, op Operation) (Content, error) {
	if op.Position.IsKey && op.Type != OpReplace {
		return nil, fmt.Errorf("%w: key position on list content", ErrContentMismatch)
	}
	switch op.Type {
	case OpInsert:
		idx := clamp(op.Position.Index, 0, len(c))
		out := make(ListContent, 0, len(c)+1)
		out = append(out, c[:idx]...)
		out = append(out, op.Data.Content)
		out = append(out, c[idx:]...)
		return out, nil
	case OpDelete:
		start := clamp(op.Position.Index, 0, len(c))
		end := clamp(start+op.Data.Length, start, len(c))
		out := make(ListContent, 0, len(c)-(end-start))
		out = append(out, c[:start]...)
		out = append(out, c[end:]...)
		return out, nil
	case OpUpdate:
		if op.Position.Index < 0 || op.Position.Index >= len(c) {
			return nil, fmt.Errorf("%w: list update index %d out of range", ErrContentMismatch, op.Position.Index)
		}
		out := c.clone().(ListContent)
		out[op.Position.Index] = op.Data.Content
		return out, nil
	case OpReplace:
		items, ok := op.Data.Content.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: list replace requires a list payload", ErrContentMismatch)
		}
		return ListContent(items).clone(), nil
	default:
		return nil, fmt.Errorf("%w: %s on list content", ErrContentMismatch, op.Type)
	}
}

func applyMap(c MapContent, op Operation) (Content, error) {
	switch op.Type {
	case OpInsert, OpUpdate:
		out := c.clone().(MapContent)
		if op.Position.IsKey {
			out[op.Position.Key] = op.Data.Content
			return out, nil
		}
		fields, ok := op.Data.Content.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: map %s requires a key position or a field map", ErrContentMismatch, op.Type)
		}
		for k, v := range fields {
			out[k] = v
		}
		return out, nil
	case OpDelete:
		if !op.Position.IsKey {
			return nil, fmt.Errorf("%w: map delete requires a key position", ErrContentMismatch)
		}
		out := c.clone().(MapContent)
		delete(out, op.Position.Key)
		return out, nil
	case OpReplace:
		fields, ok := op.Data.Content.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: map replace requires a field map", ErrContentMismatch)
		}
		return MapContent(fields).clone(), nil
	default:
		return nil, fmt.Errorf("%w: %s on map content", ErrContentMismatch, op.Type)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
