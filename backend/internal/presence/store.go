package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Store mirrors per-user presence aggregates so peer nodes can see users
// whose connections are not served locally.
type Store interface {
	SetAggregate(ctx context.Context, agg UserPresence, ttl time.Duration) error
	GetAggregate(ctx context.Context, userID uint64) (UserPresence, bool, error)
}

const keyUserFmt = "presence:user:%d"

func userKey(userID uint64) string { return fmt.Sprintf(keyUserFmt, userID) }

type redisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) Store {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) SetAggregate(ctx context.Context, agg UserPresence, ttl time.Duration) error {
	b, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, userKey(agg.UserID), b, ttl).Err()
}

func (s *redisStore) GetAggregate(ctx context.Context, userID uint64) (UserPresence, bool, error) {
	b, err := s.rdb.Get(ctx, userKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return UserPresence{}, false, nil
		}
		return UserPresence{}, false, err
	}
	var agg UserPresence
	if err := json.Unmarshal(b, &agg); err != nil {
		return UserPresence{}, false, err
	}
	return agg, true, nil
}
