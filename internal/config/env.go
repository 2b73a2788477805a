// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/tidepoint/marketplace/internal/domain"
)

// EnvPrefix is prepended to every configuration variable.
const EnvPrefix = "TIDEPOINT_"

// Load parses the configuration from environment variables, applying defaults.
func Load() (*domain.Config, error) {
	cfg := &domain.Config{}
	if err := ParseEnv(cfg, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv loads configuration into target. A nil environment means the
// process environment.
func ParseEnv(target any, environment map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(target, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LogLevel maps a configured level name to a slog level.
func LogLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
