package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/killallgit/atelier/pkg/config"
	"github.com/redis/go-redis/v9"
)

// RedisRecord keeps records in Redis so several machines can share a user's
// last active project.
type RedisRecord struct {
	client *redis.Client
}

func NewRedisRecord(cfg config.RedisConfig) *RedisRecord {
	return &RedisRecord{client: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// NewRedisRecordWithClient wraps an existing client.
func NewRedisRecordWithClient(client *redis.Client) *RedisRecord {
	return &RedisRecord{client: client}
}

func (r *RedisRecord) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s from redis: %w", key, err)
	}
	return v, nil
}

func (r *RedisRecord) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s to redis: %w", key, err)
	}
	return nil
}

func (r *RedisRecord) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from redis: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisRecord) Close() error {
	return r.client.Close()
}
