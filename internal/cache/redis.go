package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage implements domain.Storage using Redis.
// Keys are namespaced with a prefix so several deployments can share a server.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage creates a new Redis storage and verifies the connection.
func NewRedisStorage(addr, password string, db int, prefix string) (*RedisStorage, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{client: client, prefix: prefix}, nil
}

// Get retrieves a value from Redis.
func (s *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores a value without expiry; the entity cache evaluates age itself.
func (s *RedisStorage) Set(ctx context.Context, key string, value string) error {
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

// Remove deletes a value from Redis.
func (s *RedisStorage) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Keys scans for keys with the given prefix.
func (s *RedisStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	match := s.prefix + prefix + "*"
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, s.prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Ping checks Redis connectivity.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
