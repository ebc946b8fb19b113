package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{
		client: client,
		prefix: "storefront:",
	}
}

// RedisBackend stores snapshots as plain string values without expiry.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func (r RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (r RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r RedisBackend) SetBatch(ctx context.Context, entries []Entry) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			pipe.Set(ctx, r.redisKey(e.Key), e.Value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis batch set failed: %w", err)
	}
	return nil
}

func (r RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r RedisBackend) Close() error {
	return r.client.Close()
}

func (r RedisBackend) redisKey(key string) string {
	return r.prefix + key
}
