package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/defi_engine/internal/config"
	"github.com/R3E-Network/defi_engine/internal/engine/registry"
)

// redisClient is the part of redis.Cmdable the store uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisStore keeps the latest snapshot as a JSON string under one key.
type RedisStore struct {
	client redisClient
	key    string
}

// OpenRedisStore connects to Redis and verifies the connection.
func OpenRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return newRedisStore(client, cfg.Key), nil
}

func newRedisStore(client redisClient, key string) *RedisStore {
	if key == "" {
		key = "defi:snapshot"
	}
	return &RedisStore{client: client, key: key}
}

// Save overwrites the snapshot key.
func (s *RedisStore) Save(ctx context.Context, snap registry.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Load reads the snapshot key.
func (s *RedisStore) Load(ctx context.Context) (registry.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return registry.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return registry.Snapshot{}, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return decode(data)
}

func (s *RedisStore) Backend() string { return config.BackendRedis }

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
