package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerCmd != "./diwa.sh" || strings.Join(cfg.Args(), " ") != "start" {
		t.Fatalf("server = %q %v", cfg.ServerCmd, cfg.Args())
	}
	if cfg.ProtocolVersion != "2024-11-05" || cfg.ClientName != "TestClient" || cfg.ClientVersion != "1.0" {
		t.Fatalf("client identity = %+v", cfg)
	}
	if cfg.CallTimeout != 30*time.Second || cfg.InitTimeout != 10*time.Second {
		t.Fatalf("timeouts = %v / %v", cfg.CallTimeout, cfg.InitTimeout)
	}
	if cfg.Store != StoreNone || cfg.ReportTTL != 168*time.Hour {
		t.Fatalf("store = %q ttl = %v", cfg.Store, cfg.ReportTTL)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MCPHARNESS_SERVER_CMD", "/usr/local/bin/koda")
	t.Setenv("MCPHARNESS_SERVER_ARGS", "serve  --stdio")
	t.Setenv("MCPHARNESS_CALL_TIMEOUT", "2s")
	t.Setenv("MCPHARNESS_STORE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("MCPHARNESS_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerCmd != "/usr/local/bin/koda" {
		t.Fatalf("ServerCmd = %q", cfg.ServerCmd)
	}
	if got := cfg.Args(); len(got) != 2 || got[0] != "serve" || got[1] != "--stdio" {
		t.Fatalf("Args = %q", got)
	}
	if cfg.CallTimeout != 2*time.Second {
		t.Fatalf("CallTimeout = %v", cfg.CallTimeout)
	}
	if cfg.Store != StoreRedis || cfg.RedisAddr != "redis:6380" {
		t.Fatalf("store = %q addr = %q", cfg.Store, cfg.RedisAddr)
	}
	if l, _ := cfg.Level(); l != slog.LevelDebug {
		t.Fatalf("Level = %v", l)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]map[string]string{
		"store":     {"MCPHARNESS_STORE": "etcd"},
		"log level": {"MCPHARNESS_LOG_LEVEL": "loud"},
		"duration":  {"MCPHARNESS_CALL_TIMEOUT": "soon"},
		"memory":    {"MCPHARNESS_STORE": "memory", "MCPHARNESS_MEMORY_SIZE": "0"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
