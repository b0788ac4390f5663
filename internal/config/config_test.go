package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sample = `
server:
  port: "9090"
  allowedOrigins: ["http://localhost:3000"]
redis:
  addr: localhost:6379
  ttl: 45s
questions:
  ttl: 10m
rooms:
  countdown: 5s
  reconnectGrace: 20s
ratelimit:
  perSecond: 10
  burst: 20
logging:
  level: debug
  format: console
client:
  url: ws://localhost:9090/ws
  fallbacks: ["ws://backup:9090/ws"]
  baseDelay: 2s
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || len(cfg.Server.AllowedOrigins) != 1 {
		t.Fatalf("server section: %+v", cfg.Server)
	}
	if cfg.RateLimit.PerSecond != 10 || cfg.RateLimit.Burst != 20 {
		t.Fatalf("ratelimit section: %+v", cfg.RateLimit)
	}
	if cfg.Client.Fallbacks[0] != "ws://backup:9090/ws" {
		t.Fatalf("client section: %+v", cfg.Client)
	}
	if got := TTLDuration(cfg.Rooms.ReconnectGrace, time.Minute); got != 20*time.Second {
		t.Fatalf("reconnect grace = %v", got)
	}
	if got := TTLDuration(cfg.Rooms.CloseAfter, 5*time.Minute); got != 5*time.Minute {
		t.Fatalf("close after fallback = %v", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("POSTGRES_URL", "postgres://game@db/game")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "redis:6380" || cfg.Redis.DB != 3 || cfg.Postgres.URL != "postgres://game@db/game" || cfg.Logging.Level != "warn" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestTTLDuration(t *testing.T) {
	if got := TTLDuration("bogus", time.Second); got != time.Second {
		t.Fatalf("invalid input should fall back, got %v", got)
	}
	if got := TTLDuration("1m30s", time.Second); got != 90*time.Second {
		t.Fatalf("got %v", got)
	}
}
