package ot

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxOperationBytes is a hard cap on the serialized operation size.
// Oversized operations are rejected outright, never truncated.
const MaxOperationBytes = 10 * 1024

var ErrInvalidOperation = errors.New("invalid operation")

// Validate performs the structural checks from the protocol: known type,
// payload shape matching the type, and the serialized size cap.
func Validate(op Operation) error {
	switch op.Type {
	case OpInsert, OpUpdate, OpReplace:
		if op.Data.Content == nil {
			return fmt.Errorf("%w: %s requires a content payload", ErrInvalidOperation, op.Type)
		}
	case OpDelete:
		if op.Data.Length < 0 {
			return fmt.Errorf("%w: delete length must be non-negative", ErrInvalidOperation)
		}
	case OpNoOp:
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrInvalidOperation, op.Type)
	}
	if !op.Position.IsKey && op.Position.Index < 0 {
		return fmt.Errorf("%w: position index must be non-negative", ErrInvalidOperation)
	}
	raw, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	if len(raw) > MaxOperationBytes {
		return fmt.Errorf("%w: serialized operation is %d bytes, cap is %d", ErrInvalidOperation, len(raw), MaxOperationBytes)
	}
	return nil
}
