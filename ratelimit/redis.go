package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript starts the window on the first hit only, so later hits
// do not extend it.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

// RedisStore shares counters between server instances.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	res, err := incrementScript.Run(ctx, s.rdb, []string{"ratelimit:" + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected rate limit script reply: %v", res)
	}
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl < 0 {
		ttl = window
	}
	return res[0], time.Now().Add(ttl), nil
}

// NewStore connects to Redis when addr is set and reachable and falls back
// to a MemoryStore otherwise.
func NewStore(ctx context.Context, addr string) (Store, func()) {
	if addr == "" {
		slog.Warn("REDIS_ADDR not set, rate limiting is per process")
		mem := NewMemoryStore(time.Minute)
		return mem, mem.Close
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("could not connect to Redis, rate limiting is per process", "error", err)
		rdb.Close()
		mem := NewMemoryStore(time.Minute)
		return mem, mem.Close
	}
	slog.Info("rate limiter using Redis", "addr", addr)
	return NewRedisStore(rdb), func() { rdb.Close() }
}
