package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/tidepoint/marketplace/internal/domain"
)

func TestParseEnvDefaults(t *testing.T) {
	cfg := &domain.Config{}
	if err := ParseEnv(cfg, map[string]string{}); err != nil {
		t.Fatalf("ParseEnv failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Repository.Driver)
	}
	if cfg.Cache.DebounceWindow != 100*time.Millisecond {
		t.Errorf("expected 100ms debounce, got %v", cfg.Cache.DebounceWindow)
	}
	if cfg.Permissions.CacheTTL != 5*time.Minute {
		t.Errorf("expected 5m permission TTL, got %v", cfg.Permissions.CacheTTL)
	}
	if cfg.Permissions.RoleFetchPause != 300*time.Millisecond {
		t.Errorf("expected 300ms role pause, got %v", cfg.Permissions.RoleFetchPause)
	}
	if cfg.Permissions.MaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.Permissions.MaxAttempts)
	}
	if !cfg.Catalog.SeedSampleData {
		t.Error("expected sample data to be seeded by default")
	}
	if cfg.Worker.Enabled || cfg.Worker.Concurrency != 4 {
		t.Errorf("unexpected worker defaults: %+v", cfg.Worker)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	cfg := &domain.Config{}
	err := ParseEnv(cfg, map[string]string{
		"TIDEPOINT_SERVER_PORT":                       "9090",
		"TIDEPOINT_DB_DRIVER":                         "postgres",
		"TIDEPOINT_STORAGE_TYPE":                      "redis",
		"TIDEPOINT_PERMISSIONS_BOOTSTRAP_ADMIN_EMAIL": "ops@example.com",
		"TIDEPOINT_CACHE_DEBOUNCE_WINDOW":             "250ms",
	})
	if err != nil {
		t.Fatalf("ParseEnv failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Repository.Driver != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Repository.Driver)
	}
	if cfg.Storage.Type != "redis" {
		t.Errorf("expected redis storage, got %s", cfg.Storage.Type)
	}
	if cfg.Permissions.BootstrapAdminEmail != "ops@example.com" {
		t.Errorf("unexpected bootstrap email %q", cfg.Permissions.BootstrapAdminEmail)
	}
	if cfg.Cache.DebounceWindow != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.Cache.DebounceWindow)
	}
}

func TestParseEnvInvalid(t *testing.T) {
	cfg := &domain.Config{}
	err := ParseEnv(cfg, map[string]string{"TIDEPOINT_SERVER_PORT": "not-a-number"})
	if err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := LogLevel(tt.input); got != tt.expected {
			t.Errorf("LogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}
