package hashcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "summary_cache:"

// redisCommands is the subset of *redis.Client used by RedisStore.
type redisCommands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisStore keeps cache entries as plain string keys. A zero ttl keeps them forever.
type RedisStore struct {
	client redisCommands
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Get looks up the summary for digest.
func (s *RedisStore) Get(ctx context.Context, digest string) (string, bool, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+digest).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read summary cache: %w", err)
	}
	return val, true, nil
}

// Put stores the entry with SETNX so an existing summary is never replaced.
func (s *RedisStore) Put(ctx context.Context, digest, summary string) error {
	if err := s.client.SetNX(ctx, redisKeyPrefix+digest, summary, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write summary cache: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
