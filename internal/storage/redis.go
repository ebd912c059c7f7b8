package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend is a [Backend] implementation over a remote Redis instance,
// for multi-instance gateway deployments that need a shared server registry
// and tool index. Values are JSON-encoded before being written so the wire
// format is identical regardless of which backend is configured.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a [RedisBackend] for the given connection URL
// (e.g. "redis://localhost:6379/0").
func NewRedisBackend(redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse redis url: %w", err)
	}
	return &RedisBackend{client: redis.NewClient(opts)}, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string, out any) error {
	raw, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("storage: redis get %q: %w", key, err)
	}
	return json.Unmarshal(raw, out)
}

func (b *RedisBackend) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: marshal value for key %q: %w", key, err)
	}
	if ttl > 0 {
		return b.client.SetEx(ctx, key, string(raw), ttl).Err()
	}
	return b.client.Set(ctx, key, string(raw), 0).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("storage: redis del %q: %w", key, err)
	}
	return n > 0, nil
}

func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("storage: redis exists %q: %w", key, err)
	}
	return n > 0, nil
}

func (b *RedisBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	keys, err := b.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: redis keys %q: %w", pattern, err)
	}
	return keys, nil
}

func (b *RedisBackend) HGet(ctx context.Context, key, field string, out any) error {
	raw, err := b.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("storage: redis hget %q/%q: %w", key, field, err)
	}
	return json.Unmarshal(raw, out)
}

func (b *RedisBackend) HSet(ctx context.Context, key, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: marshal hash field %q/%q: %w", key, field, err)
	}
	return b.client.HSet(ctx, key, field, string(raw)).Err()
}

func (b *RedisBackend) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	result, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: redis hgetall %q: %w", key, err)
	}
	out := make(map[string][]byte, len(result))
	for field, value := range result {
		out[field] = []byte(value)
	}
	return out, nil
}

func (b *RedisBackend) HDel(ctx context.Context, key, field string) (bool, error) {
	n, err := b.client.HDel(ctx, key, field).Result()
	if err != nil {
		return false, fmt.Errorf("storage: redis hdel %q/%q: %w", key, field, err)
	}
	return n > 0, nil
}

func (b *RedisBackend) Close() error {
	if err := b.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
