package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a WindowStore backed by a shared Redis instance so that
// multiple service processes draw from one upstream quota. INCR is atomic,
// which gives the same check-then-increment guarantee the memory store gets
// from its mutex.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "ratelimit:window:"}
}

func (s *RedisStore) Take(ctx context.Context, key string, limit int, length time.Duration) (Decision, error) {
	k := s.prefix + key

	n, err := s.rdb.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, err
	}
	if n == 1 {
		if err := s.rdb.Expire(ctx, k, length).Err(); err != nil {
			return Decision{}, err
		}
	}

	ttl, err := s.rdb.TTL(ctx, k).Result()
	if err != nil {
		return Decision{}, err
	}
	if ttl < 0 {
		// Expiry was lost (e.g. INCR raced a flush); restore it rather than
		// leave a counter that never resets.
		ttl = length
		if err := s.rdb.Expire(ctx, k, length).Err(); err != nil {
			return Decision{}, err
		}
	}
	resetAt := time.Now().Add(ttl)

	if n > int64(limit) {
		// Counts past the ceiling are harmless; the key expires with the window.
		return Decision{ResetAt: resetAt, RetryAfter: ttl}, nil
	}

	return Decision{
		Allowed:   true,
		Remaining: limit - int(n),
		ResetAt:   resetAt,
	}, nil
}
