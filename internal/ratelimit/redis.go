package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// windowScript increments the key and starts its expiry on the first hit of a
// window, returning {count, ttl_ms}. Running it as one script keeps the
// reset and the increment atomic across gateway instances.
var windowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if count == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore shares window counters between gateway instances.
type RedisStore struct {
	client *redis.Client
	limits Limits
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps an existing client. Keys are namespaced with prefix.
func NewRedisStore(client *redis.Client, limits Limits, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "moodcycle:ratelimit:"
	}
	return &RedisStore{client: client, limits: limits, prefix: prefix, now: time.Now}
}

// OpenRedis parses a redis:// URL and verifies connectivity.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// CheckAndIncrement implements Store.
func (s *RedisStore) CheckAndIncrement(ctx context.Context, key string) (Decision, error) {
	windowMS := s.limits.Window.Milliseconds()
	res, err := windowScript.Run(ctx, s.client, []string{s.prefix + key}, windowMS).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis window script: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Decision{}, fmt.Errorf("redis window script: unexpected reply %T", res)
	}
	count, ok1 := vals[0].(int64)
	ttl, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return Decision{}, fmt.Errorf("redis window script: unexpected reply %v", vals)
	}

	resetAt := s.now().Add(time.Duration(ttl) * time.Millisecond)
	return decide(s.limits, int(count), resetAt), nil
}
