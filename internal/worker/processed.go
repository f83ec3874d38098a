package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProcessedSet remembers which messages were already handled.
type ProcessedSet interface {
	// Seen marks key and reports whether it had been marked before.
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type RedisProcessedSet struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisProcessedSet(rdb *redis.Client, ttl time.Duration) *RedisProcessedSet {
	return &RedisProcessedSet{rdb: rdb, ttl: ttl}
}

func (s *RedisProcessedSet) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (s *RedisProcessedSet) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
