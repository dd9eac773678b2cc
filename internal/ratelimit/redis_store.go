package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript runs one fixed-window step atomically on the server.
// KEYS[1] counter key; ARGV[1] window in ms; ARGV[2] max.
// Returns {admitted, count, pttl}.
var hitScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local window = tonumber(ARGV[1])
local max = tonumber(ARGV[2])

if count == 0 then
  redis.call('SET', KEYS[1], 1, 'PX', window)
  return {1, 1, window}
end

local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], window)
  ttl = window
end

if count >= max then
  return {0, count, ttl}
end

count = redis.call('INCR', KEYS[1])
return {1, count, ttl}
`)

// RedisStore keeps windows in Redis so replicas share one quota. Expiry is
// Redis's own key TTL, so closed windows need no sweeping.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return "ratelimit:" + k
	}
	return s.prefix + ":ratelimit:" + k
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, max int, now time.Time) (Window, bool, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.key(key)}, window.Milliseconds(), max).Int64Slice()
	if err != nil {
		return Window{}, false, fmt.Errorf("redis rate window: %w", err)
	}
	if len(res) != 3 {
		return Window{}, false, fmt.Errorf("redis rate window: unexpected reply %v", res)
	}

	resetAt := now.Add(time.Duration(res[2]) * time.Millisecond)
	return Window{
		Count:   int(res[1]),
		Start:   resetAt.Add(-window),
		ResetAt: resetAt,
	}, res[0] == 1, nil
}
