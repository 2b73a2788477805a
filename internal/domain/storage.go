package domain

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrQuotaExceeded is returned by a Storage that cannot accept more data.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// Storage is a durable string key-value store.
// It plays the role a browser's local storage plays for a single origin:
// values survive restarts of the process but carry no consistency guarantees
// across processes sharing the same backend.
type Storage interface {
	// Get returns the value stored under key.
	// The boolean is false when the key does not exist.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists every key that starts with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// StorageConfig holds configuration for the durable storage backend.
type StorageConfig struct {
	// Type is the backend: "memory", "redis" or "sql"
	Type string `env:"TYPE" envDefault:"sql"`

	// Memory backend quota in bytes (0 = unlimited)
	QuotaBytes int `env:"QUOTA_BYTES" envDefault:"5242880"`

	// Redis backend settings
	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"tidepoint:"`
}
