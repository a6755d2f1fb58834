package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 3001 {
		t.Errorf("expected default port 3001, got %d", cfg.Server.Port)
	}
	if cfg.Alerts.BacklogSize != 10 {
		t.Errorf("expected backlog 10, got %d", cfg.Alerts.BacklogSize)
	}
	if cfg.Alerts.DefaultListLimit != 50 {
		t.Errorf("expected list limit 50, got %d", cfg.Alerts.DefaultListLimit)
	}
	if cfg.Enrichment.Timeout != 2*time.Second {
		t.Errorf("expected enrichment timeout 2s, got %v", cfg.Enrichment.Timeout)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "8088")
	t.Setenv("GRPC_ENABLED", "false")
	t.Setenv("BACKLOG_SIZE", "25")
	t.Setenv("PROFILE_CACHE_TTL", "30s")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8088 {
		t.Errorf("expected port 8088, got %d", cfg.Server.Port)
	}
	if cfg.GRPC.Enabled {
		t.Error("expected grpc disabled")
	}
	if cfg.Alerts.BacklogSize != 25 {
		t.Errorf("expected backlog 25, got %d", cfg.Alerts.BacklogSize)
	}
	if cfg.Enrichment.CacheTTL != 30*time.Second {
		t.Errorf("expected cache ttl 30s, got %v", cfg.Enrichment.CacheTTL)
	}
	if cfg.Server.RateLimitRPS != 2.5 {
		t.Errorf("expected rate limit 2.5, got %v", cfg.Server.RateLimitRPS)
	}
}

func TestLoad_UnparsableFallsBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 3001 {
		t.Errorf("expected fallback port, got %d", cfg.Server.Port)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port out of range", "SERVER_PORT", "70000"},
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"zero backlog", "BACKLOG_SIZE", "0"},
		{"limit above max", "DEFAULT_LIST_LIMIT", "1000"},
		{"grpc port clash", "GRPC_PORT", "3001"},
		{"fast ping", "WS_PING_INTERVAL", "10ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}
