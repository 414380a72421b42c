package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/posconnector/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultIdentityKeyPrefix = "posconnector:job:identity:"

// RedisIdentityStore implements IdentityStore with SET NX, so that
// several connector instances share the same reservations.
type RedisIdentityStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisIdentityStore connects to Redis and checks the connection
func NewRedisIdentityStore(ctx context.Context, cfg config.RedisConfig) (*RedisIdentityStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisIdentityStoreWithClient(client, ""), nil
}

// NewRedisIdentityStoreWithClient wraps an existing client
func NewRedisIdentityStoreWithClient(client *redis.Client, keyPrefix string) *RedisIdentityStore {
	if keyPrefix == "" {
		keyPrefix = defaultIdentityKeyPrefix
	}
	return &RedisIdentityStore{client: client, keyPrefix: keyPrefix}
}

// Reserve claims key for ttl in one SET NX round trip
func (s *RedisIdentityStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve identity key: %w", err)
	}
	return ok, nil
}

// Release deletes the reservation of key
func (s *RedisIdentityStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release identity key: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisIdentityStore) Close() error {
	return s.client.Close()
}

var _ IdentityStore = (*RedisIdentityStore)(nil)

// NewIdentityStore returns a Redis store when cfg names a host and an
// in-memory store otherwise. An unreachable Redis falls back to memory.
func NewIdentityStore(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) IdentityStore {
	if cfg.Addr() == "" {
		logger.Info("Redis not configured, job identity keys kept in memory")
		return NewInMemoryIdentityStore()
	}
	store, err := NewRedisIdentityStore(ctx, cfg)
	if err != nil {
		logger.Warn("Redis unavailable, job identity keys kept in memory",
			zap.String("addr", cfg.Addr()),
			zap.Error(err),
		)
		return NewInMemoryIdentityStore()
	}
	return store
}
