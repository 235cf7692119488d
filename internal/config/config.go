// Package config loads harness settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Store backends.
const (
	StoreNone   = "none"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds every environment-driven setting. CLI flags override these
// after Load.
type Config struct {
	// ServerCmd is the MCP server executable. ENV: MCPHARNESS_SERVER_CMD
	ServerCmd string `env:"MCPHARNESS_SERVER_CMD,default=./diwa.sh"`
	// ServerArgs are whitespace-separated arguments. ENV: MCPHARNESS_SERVER_ARGS
	ServerArgs string `env:"MCPHARNESS_SERVER_ARGS,default=start"`
	// ServerStderr passes the server's stderr through to ours.
	ServerStderr bool `env:"MCPHARNESS_SERVER_STDERR,default=false"`

	ProtocolVersion string `env:"MCPHARNESS_PROTOCOL_VERSION,default=2024-11-05"`
	ClientName      string `env:"MCPHARNESS_CLIENT_NAME,default=TestClient"`
	ClientVersion   string `env:"MCPHARNESS_CLIENT_VERSION,default=1.0"`

	CallTimeout time.Duration `env:"MCPHARNESS_CALL_TIMEOUT,default=30s"`
	InitTimeout time.Duration `env:"MCPHARNESS_INIT_TIMEOUT,default=10s"`

	LogLevel string `env:"MCPHARNESS_LOG_LEVEL,default=info"`

	// Store selects where run reports go: none, memory or redis.
	Store      string        `env:"MCPHARNESS_STORE,default=none"`
	RedisAddr  string        `env:"REDIS_ADDR,default=localhost:6379"`
	KeyPrefix  string        `env:"MCPHARNESS_KEY_PREFIX,default=mcpharness:runs:"`
	ReportTTL  time.Duration `env:"MCPHARNESS_REPORT_TTL,default=168h"`
	MemorySize int           `env:"MCPHARNESS_MEMORY_SIZE,default=256"`
}

// Load reads Config from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ServerCmd) == "" {
		errs = append(errs, errors.New("server command is empty"))
	}
	switch c.Store {
	case StoreNone, StoreMemory, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.CallTimeout < 0 || c.InitTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.Store == StoreMemory && c.MemorySize <= 0 {
		errs = append(errs, errors.New("memory store size must be positive"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Args splits ServerArgs on whitespace.
func (c *Config) Args() []string {
	return strings.Fields(c.ServerArgs)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return l, nil
}
