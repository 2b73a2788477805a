package cache

import (
	"fmt"

	"github.com/tidepoint/marketplace/internal/domain"
)

// NewStorage creates the durable storage backend selected by configuration.
// The "sql" backend reuses the repository's key-value table and needs sqlStore.
func NewStorage(cfg domain.StorageConfig, sqlStore domain.Storage) (domain.Storage, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(cfg.QuotaBytes), nil

	case "redis":
		return NewRedisStorage(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix)

	case "sql":
		if sqlStore == nil {
			return nil, fmt.Errorf("sql storage requires a repository")
		}
		return sqlStore, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
