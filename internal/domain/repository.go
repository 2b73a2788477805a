// Package domain defines the core interfaces and types for the marketplace.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	LoyaltyStore
	PermissionStore
	Storage

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `env:"DRIVER" envDefault:"sqlite"`

	// SQLite specific
	SQLitePath string `env:"SQLITE_PATH" envDefault:"./tidepoint.db"`

	// PostgreSQL specific
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"tidepoint"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE"`

	// PostgresURL, when set, replaces the individual Postgres settings.
	PostgresURL string `env:"POSTGRES_URL"`

	// Connection pool settings
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME"`
}
