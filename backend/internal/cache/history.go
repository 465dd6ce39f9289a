package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"

	"realtimeCollab/backend/internal/ot"
)

const (
	// HistoryLimit bounds retained operations per document; oldest evicted
	// first. Used solely for conflict resolution, never as an audit log.
	HistoryLimit = 100
	// HistoryTTL is the absolute retention regardless of count.
	HistoryTTL = 30 * 24 * time.Hour
)

// HistoryStore keeps the bounded per-document operation history as a
// Redis list, newest first.
type HistoryStore struct {
	rdb redis.UniversalClient
}

func NewHistoryStore(rdb redis.UniversalClient) *HistoryStore {
	return &HistoryStore{rdb: rdb}
}

// Append registers an applied operation. Push, trim and expire ride one
// pipeline, mirroring how the document itself was just written.
func (h *HistoryStore) Append(ctx context.Context, resourceType, resourceID, fieldName string, entry ot.HistoryEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := historyKey(resourceType, resourceID, fieldName)
	pipe := h.rdb.TxPipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, HistoryLimit-1)
	pipe.Expire(ctx, key, HistoryTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Since returns every registered operation with version > fromVersion, in
// ascending version order.
func (h *HistoryStore) Since(ctx context.Context, resourceType, resourceID, fieldName string, fromVersion uint64) ([]ot.HistoryEntry, error) {
	raw, err := h.rdb.LRange(ctx, historyKey(resourceType, resourceID, fieldName), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]ot.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry ot.HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, err
		}
		if entry.Operation.Version > fromVersion {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Operation.Version < out[j].Operation.Version
	})
	return out, nil
}
