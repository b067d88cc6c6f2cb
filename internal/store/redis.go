package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "studio:kv:"
	redisIndexKey   = "studio:kv-index"
	redisVersionKey = "studio:kv-version"
)

// RedisStore implements KV on Redis strings. Keys written through the store are
// tracked in an index set so the quota can be computed across them.
type RedisStore struct {
	client *redis.Client
	quota  int64
}

// NewRedis connects to the Redis server at redisURL.
func NewRedis(redisURL string, quota int64) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return NewRedisWithClient(client, quota), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, quota int64) *RedisStore {
	return &RedisStore{client: client, quota: quota}
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

// Set stores value under key inside an optimistic transaction. Every write
// bumps a version key that Set watches, so a concurrent write to any key,
// including an overwrite of one already indexed, forces the quota check to
// run again.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	txf := func(tx *redis.Tx) error {
		if s.quota > 0 {
			used, err := s.usageExcluding(ctx, tx, key)
			if err != nil {
				return err
			}
			if used += int64(len(key) + len(value)); used > s.quota {
				return quotaError(used, s.quota)
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKeyPrefix+key, value, 0)
			pipe.SAdd(ctx, redisIndexKey, key)
			pipe.Incr(ctx, redisVersionKey)
			return nil
		})
		return err
	}

	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, txf, redisIndexKey, redisVersionKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("set %s: transaction kept failing after %d attempts", key, maxRetries)
}

func (s *RedisStore) usageExcluding(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	members, err := tx.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("read index: %w", err)
	}
	var used int64
	for _, m := range members {
		if m == key {
			continue
		}
		n, err := tx.StrLen(ctx, redisKeyPrefix+m).Result()
		if err != nil {
			return 0, fmt.Errorf("measure %s: %w", m, err)
		}
		used += int64(len(m)) + n
	}
	return used, nil
}

// Delete removes key and its index entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKeyPrefix+key)
		pipe.SRem(ctx, redisIndexKey, key)
		pipe.Incr(ctx, redisVersionKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
