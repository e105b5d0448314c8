package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort == "" {
		t.Fatalf("expected default server port")
	}
	if cfg.PostgresURL == "" {
		t.Fatalf("expected default postgres url")
	}
	if cfg.GPSInterval() != time.Minute {
		t.Fatalf("expected 60s gps interval, got %v", cfg.GPSInterval())
	}
	if cfg.RecordingInterval() != 5*time.Second {
		t.Fatalf("expected 5s recording interval, got %v", cfg.RecordingInterval())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("POSTGRES_URL", "postgres://example")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_URL", "http://store:8080")
	t.Setenv("DEFAULT_GPS_INTERVAL", "10000")

	cfg := Load()
	if cfg.ServerPort != ":9000" {
		t.Fatalf("expected override port")
	}
	if cfg.PostgresURL != "postgres://example" {
		t.Fatalf("expected override postgres")
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("expected override redis")
	}
	if cfg.JWTSecret != "secret" {
		t.Fatalf("expected override secret")
	}
	if cfg.StoreURL != "http://store:8080" {
		t.Fatalf("expected override store url")
	}
	if cfg.GPSInterval() != 10*time.Second {
		t.Fatalf("expected override gps interval, got %v", cfg.GPSInterval())
	}
}

func TestIntervalFallback(t *testing.T) {
	cfg := Config{DefaultGPSInterval: -1}
	if cfg.GPSInterval() != time.Minute {
		t.Fatalf("expected fallback for non-positive interval")
	}
}
