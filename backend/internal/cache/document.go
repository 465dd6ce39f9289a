package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"realtimeCollab/backend/internal/ot"
)

// casScript writes the document blob only when the stored version still
// matches the expected one (or the key is absent and the caller expects
// version 0). This is the conditional write that keeps two concurrent
// submissions from both becoming "version N+1".
var casScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false then
	if tonumber(ARGV[2]) ~= 0 then
		return 0
	end
else
	local ok, doc = pcall(cjson.decode, cur)
	if not ok then
		return 0
	end
	if tonumber(doc.version) ~= tonumber(ARGV[2]) then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[3])
return 1
`)

// DocumentCache is the Redis tier of document state: bounded TTL, version
// compare-and-set writes, durable storage behind it.
type DocumentCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewDocumentCache(rdb redis.UniversalClient, ttl time.Duration) *DocumentCache {
	if ttl <= 0 {
		ttl = 3600 * time.Second
	}
	return &DocumentCache{rdb: rdb, ttl: ttl}
}

func (c *DocumentCache) Get(ctx context.Context, resourceType, resourceID, fieldName string) (ot.DocumentState, bool, error) {
	b, err := c.rdb.Get(ctx, docKey(resourceType, resourceID, fieldName)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ot.DocumentState{}, false, nil
		}
		return ot.DocumentState{}, false, err
	}
	var state ot.DocumentState
	if err := json.Unmarshal(b, &state); err != nil {
		return ot.DocumentState{}, false, err
	}
	return state, true, nil
}

// Put writes unconditionally; used to warm the cache from durable storage.
func (c *DocumentCache) Put(ctx context.Context, resourceType, resourceID, fieldName string, state ot.DocumentState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, docKey(resourceType, resourceID, fieldName), b, c.ttl).Err()
}

// CompareAndSet writes state only if the stored version equals expect.
// ok=false means another writer advanced the document first.
func (c *DocumentCache) CompareAndSet(ctx context.Context, resourceType, resourceID, fieldName string, state ot.DocumentState, expect uint64) (bool, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return false, err
	}
	res, err := casScript.Run(ctx, c.rdb, []string{docKey(resourceType, resourceID, fieldName)},
		b, expect, int(c.ttl.Seconds())).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
