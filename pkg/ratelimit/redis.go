package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces limiter keys in Redis.
const DefaultKeyPrefix = "gateway:ratelimit:"

// takeScript applies one admission attempt atomically.
// KEYS[1] = window hash, ARGV = now_ms, size_ms, capacity.
// Returns {start_ms, count, allowed}.
var takeScript = redis.NewScript(`
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
local now = tonumber(ARGV[1])
local size = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])

if start == nil or count == nil or now >= start + size then
  redis.call('HSET', KEYS[1], 'start', now, 'count', 1)
  redis.call('PEXPIRE', KEYS[1], size)
  return {now, 1, 1}
end

if count >= capacity then
  return {start, count, 0}
end

count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {start, count, 1}
`)

// RedisStore keeps windows in Redis so several gateway processes share one
// admission budget per identity. Keys expire with their window.
type RedisStore struct {
	redis  redis.Scripter
	prefix string
}

// Ensure RedisStore implements WindowStore
var _ WindowStore = (*RedisStore)(nil)

// NewRedisStore creates a Redis backed window store. The Redis client is
// owned by the caller.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
	}
}

// Take implements WindowStore.
func (s *RedisStore) Take(ctx context.Context, identity string, now time.Time, size time.Duration, capacity int) (Window, bool, error) {
	res, err := takeScript.Run(ctx, s.redis,
		[]string{s.prefix + identity},
		now.UnixMilli(), size.Milliseconds(), capacity,
	).Int64Slice()
	if err != nil {
		return Window{}, false, fmt.Errorf("run window script: %w", err)
	}
	if len(res) != 3 {
		return Window{}, false, fmt.Errorf("unexpected window script reply: %v", res)
	}

	w := Window{
		Start: time.UnixMilli(res[0]),
		Count: int(res[1]),
		Size:  size,
	}
	return w, res[2] == 1, nil
}

// Close is a no-op; the Redis client belongs to the caller.
func (s *RedisStore) Close() error {
	return nil
}
