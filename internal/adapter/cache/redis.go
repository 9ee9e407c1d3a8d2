package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quotehub/internal/domain/model"
)

type RedisAdapter struct {
	client *redis.Client
	prefix string
}

func NewRedisAdapter(addr, password string, db, poolSize int, prefix string) (*RedisAdapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisAdapterWithClient(client, prefix), nil
}

func NewRedisAdapterWithClient(client *redis.Client, prefix string) *RedisAdapter {
	return &RedisAdapter{client: client, prefix: prefix}
}

// Client exposes the connection for other Redis users such as the rate limiter.
func (a *RedisAdapter) Client() *redis.Client { return a.client }

func (a *RedisAdapter) Tier() model.CacheTier { return model.TierRedis }

func (a *RedisAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func (a *RedisAdapter) Get(ctx context.Context, key string) (*model.CacheEntry, error) {
	data, err := a.client.Get(ctx, a.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	entry.Tier = model.TierRedis
	return &entry, nil
}

func (a *RedisAdapter) Set(ctx context.Context, entry model.CacheEntry) error {
	if entry.TTL <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := a.client.Set(ctx, a.prefix+entry.Key, data, entry.TTL).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", entry.Key, err)
	}
	return nil
}

func (a *RedisAdapter) Delete(ctx context.Context, key string) error {
	if err := a.client.Del(ctx, a.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from redis: %w", key, err)
	}
	return nil
}

func (a *RedisAdapter) Close() error {
	return a.client.Close()
}
