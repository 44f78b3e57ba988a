package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/universalai-xyz/5dee-x402-gateway/logger"
)

var _ Store = (*RedisStore)(nil)

// RedisStore is a Store backed by a single Redis instance, reached through
// go-redis. The two atomic counter operations are implemented as server-side
// Lua scripts (EVAL) so they remain atomic under concurrent callers, per the
// spec's "must be server-side atomic, e.g. scripted" requirement.
type RedisStore struct {
	client *redis.Client
	log    logger.Logger
}

// decrIfPositiveScript decrements key by 1 and returns 1 iff it was > 0
// beforehand; otherwise it leaves the key untouched and returns 0.
const decrIfPositiveScript = `
local v = tonumber(redis.call("GET", KEYS[1]))
if v == nil or v <= 0 then
	return 0
end
redis.call("DECR", KEYS[1])
return 1
`

// incrCappedScript increments key by 1 unless it is already >= cap, then
// always resets the key's TTL, and returns the resulting value.
const incrCappedScript = `
local v = tonumber(redis.call("GET", KEYS[1]))
if v == nil then
	v = 0
end
if v < tonumber(ARGV[1]) then
	v = redis.call("INCR", KEYS[1])
else
	redis.call("SET", KEYS[1], v)
end
redis.call("EXPIRE", KEYS[1], ARGV[2])
return v
`

// NewRedisStore dials addr (a redis:// URL) and returns a ready Store.
func NewRedisStore(addr string, log logger.Logger) (*RedisStore, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return &RedisStore{client: client, log: log}, nil
}

func (r *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kvstore set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kvstore get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisStore) Del(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kvstore del %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) DecrIfPositive(ctx context.Context, key string) (bool, error) {
	res, err := r.client.Eval(ctx, decrIfPositiveScript, []string{key}).Int64()
	if err != nil {
		return false, fmt.Errorf("kvstore decrIfPositive %s: %w", key, err)
	}
	return res == 1, nil
}

func (r *RedisStore) IncrCapped(ctx context.Context, key string, cap int64, ttl time.Duration) (int64, error) {
	res, err := r.client.Eval(ctx, incrCappedScript, []string{key}, cap, int64(ttl/time.Second)).Int64()
	if err != nil {
		return 0, fmt.Errorf("kvstore incrCapped %s: %w", key, err)
	}
	return res, nil
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
