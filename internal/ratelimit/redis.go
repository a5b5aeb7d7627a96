package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript evicts, counts and inserts in one atomic step.
// KEYS[1] window key; ARGV: now ms, period ms, limit, member.
// Returns {allowed, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local period_ms = tonumber(ARGV[2])
    local limit = tonumber(ARGV[3])

    redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - period_ms)
    local count = redis.call('ZCARD', key)

    if count >= limit then
        local retry_ms = period_ms
        local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
        if oldest[2] then
            retry_ms = tonumber(oldest[2]) + period_ms - now_ms
        end
        redis.call('PEXPIRE', key, period_ms)
        return { 0, retry_ms }
    end

    redis.call('ZADD', key, now_ms, ARGV[4])
    redis.call('PEXPIRE', key, period_ms)
    return { 1, 0 }
`)

// RedisBackend shares windows between processes through Redis sorted sets.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBackend stores windows under "<prefix>:<key>".
func NewRedisBackend(rdb *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (r *RedisBackend) Hit(ctx context.Context, key string, rule Rule, now time.Time) (bool, time.Duration, error) {
	vals, err := slidingWindowScript.Run(ctx, r.rdb, []string{r.key(key)},
		now.UnixMilli(), rule.Period.Milliseconds(), rule.Requests, uuid.NewString()).Int64Slice()
	if err != nil {
		return false, 0, errors.Wrap(err, "sliding window script")
	}
	if len(vals) != 2 {
		return false, 0, errors.Errorf("unexpected script result %v", vals)
	}
	return vals[0] == 1, time.Duration(vals[1]) * time.Millisecond, nil
}

// Reset deletes every window under the prefix.
func (r *RedisBackend) Reset(ctx context.Context) error {
	iter := r.rdb.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "scan rate limit keys")
	}
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrap(r.rdb.Del(ctx, keys...).Err(), "delete rate limit keys")
}

func (r *RedisBackend) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}
