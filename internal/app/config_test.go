package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("DB_MAX_OPEN_CONNS", "")
	t.Setenv("LEADERBOARD_CACHE_TTL", "")

	cfg := LoadConfig()
	if cfg.DBMaxOpenConns != 25 || cfg.DBConnMaxLifeMins != 30 {
		t.Fatalf("unexpected pool defaults: %+v", cfg)
	}
	if cfg.LeaderboardCacheTTL != time.Minute {
		t.Fatalf("expected 1m cache ttl, got %s", cfg.LeaderboardCacheTTL)
	}
	if cfg.AttemptRateLimitPerMin != 120 {
		t.Fatalf("expected rate limit 120, got %d", cfg.AttemptRateLimitPerMin)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "Production")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DB_AUTO_MIGRATE", "true")
	t.Setenv("DB_MAX_OPEN_CONNS", "-3")
	t.Setenv("LEADERBOARD_CACHE_TTL", "5m")
	t.Setenv("REDIS_ADDR", " redis:6379 ")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg := LoadConfig()
	if !cfg.IsProduction() || cfg.HTTPAddr != ":9090" || !cfg.DBAutoMigrate {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.DBMaxOpenConns != 25 {
		t.Fatalf("negative pool size must fall back, got %d", cfg.DBMaxOpenConns)
	}
	if cfg.LeaderboardCacheTTL != 5*time.Minute || cfg.RedisAddr != "redis:6379" || cfg.JWTSecret != "s3cret" {
		t.Fatalf("unexpected values: %+v", cfg)
	}
}
