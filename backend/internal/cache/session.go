package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"realtimeCollab/backend/internal/collab"
)

// sessionTTL keeps abandoned session hashes from living forever; every
// join refreshes it.
const sessionTTL = 24 * time.Hour

// SessionStore keeps collaboration-session participant maps as Redis
// hashes keyed by user ID.
type SessionStore struct {
	rdb redis.UniversalClient
}

func NewSessionStore(rdb redis.UniversalClient) *SessionStore {
	return &SessionStore{rdb: rdb}
}

// Join registers the participant and returns the full participant set.
func (s *SessionStore) Join(ctx context.Context, resourceType, resourceID, fieldName string, p collab.Participant) ([]collab.Participant, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	key := sessionKey(resourceType, resourceID, fieldName)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, strconv.FormatUint(p.UserID, 10), b)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return s.Participants(ctx, resourceType, resourceID, fieldName)
}

// Leave removes the participant; the session record is torn down with its
// last participant. Returns the remaining set.
func (s *SessionStore) Leave(ctx context.Context, resourceType, resourceID, fieldName string, userID uint64) ([]collab.Participant, error) {
	key := sessionKey(resourceType, resourceID, fieldName)
	if err := s.rdb.HDel(ctx, key, strconv.FormatUint(userID, 10)).Err(); err != nil {
		return nil, err
	}
	remaining, err := s.Participants(ctx, resourceType, resourceID, fieldName)
	if err != nil {
		return nil, err
	}
	if len(remaining) == 0 {
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return nil, err
		}
	}
	return remaining, nil
}

func (s *SessionStore) Participants(ctx context.Context, resourceType, resourceID, fieldName string) ([]collab.Participant, error) {
	entries, err := s.rdb.HGetAll(ctx, sessionKey(resourceType, resourceID, fieldName)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]collab.Participant, 0, len(entries))
	for _, blob := range entries {
		var p collab.Participant
		if err := json.Unmarshal([]byte(blob), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
