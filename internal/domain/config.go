package domain

import "time"

// Config holds the complete service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `envPrefix:"SERVER_"`

	// Component configurations
	Repository  RepositoryConfig `envPrefix:"DB_"`
	Storage     StorageConfig    `envPrefix:"STORAGE_"`
	Cache       CacheConfig      `envPrefix:"CACHE_"`
	Catalog     CatalogConfig    `envPrefix:"CATALOG_"`
	EventBus    EventBusConfig   `envPrefix:"BUS_"`
	Permissions PermissionConfig `envPrefix:"PERMISSIONS_"`
	Worker      WorkerConfig     `envPrefix:"WORKER_"`

	// Observability
	Logging LoggingConfig `envPrefix:"LOG_"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `env:"HOST" envDefault:"0.0.0.0"`
	Port         int    `env:"PORT" envDefault:"8080"`
	ReadTimeout  int    `env:"READ_TIMEOUT" envDefault:"30"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT" envDefault:"30"` // seconds
}

// CacheConfig tunes the entity cache.
type CacheConfig struct {
	DebounceWindow time.Duration `env:"DEBOUNCE_WINDOW" envDefault:"100ms"`
}

// CatalogConfig controls the entity catalog.
type CatalogConfig struct {
	// SeedSampleData fills the collections with sample records at startup.
	SeedSampleData bool `env:"SEED_SAMPLE_DATA" envDefault:"true"`
}

// WorkerConfig controls the async purchase worker.
type WorkerConfig struct {
	Enabled     bool `env:"ENABLED" envDefault:"false"`
	Concurrency int  `env:"CONCURRENCY" envDefault:"4"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`  // debug, info, warn, error
	Format string `env:"FORMAT" envDefault:"json"` // json, text
}
