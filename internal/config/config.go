// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	Terminal  TerminalConfig
	Storage   StorageConfig
	Apps      AppsConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"DASHBOARD_API_PORT" default:"3100"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// TerminalConfig holds terminal bridge configuration.
type TerminalConfig struct {
	WSPath         string        `envconfig:"TERMINAL_WS_PATH" default:"/api/terminal/ws"`
	Cols           int           `envconfig:"TERMINAL_COLS" default:"120"`
	Rows           int           `envconfig:"TERMINAL_ROWS" default:"36"`
	CwdDebounce    time.Duration `envconfig:"TERMINAL_CWD_DEBOUNCE" default:"140ms"`
	RecordDir      string        `envconfig:"TERMINAL_RECORD_DIR"`
	AllowedOrigins []string      `envconfig:"TERMINAL_ALLOWED_ORIGINS"`
}

// StorageConfig holds database configuration.
type StorageConfig struct {
	DBPath string `envconfig:"DB_PATH" default:"data/terminal.db"`
}

// AppsConfig holds app registry configuration.
type AppsConfig struct {
	EnvPath       string        `envconfig:"WORKSPACE_ENV_PATH" default:"/home/ubuntu/workspace/.env"`
	DefaultDomain string        `envconfig:"APPS_DEFAULT_DOMAIN" default:"localhost"`
	ProbeTimeout  time.Duration `envconfig:"APPS_PROBE_TIMEOUT" default:"500ms"`
	ProbeHost     string        `envconfig:"APPS_PROBE_HOST" default:"127.0.0.1"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CORSConfig holds allowed origins for the HTTP API.
type CORSConfig struct {
	Origins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	if c.Terminal.Cols <= 0 || c.Terminal.Rows <= 0 ||
		c.Terminal.Cols > math.MaxUint16 || c.Terminal.Rows > math.MaxUint16 {
		return fmt.Errorf("invalid terminal geometry %dx%d", c.Terminal.Cols, c.Terminal.Rows)
	}
	if c.Terminal.CwdDebounce < 0 {
		return fmt.Errorf("invalid cwd debounce %s", c.Terminal.CwdDebounce)
	}
	if !strings.HasPrefix(c.Terminal.WSPath, "/") {
		return fmt.Errorf("terminal ws path %q must start with /", c.Terminal.WSPath)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "3100",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level: "info",
		},
		Terminal: TerminalConfig{
			WSPath:      "/api/terminal/ws",
			Cols:        120,
			Rows:        36,
			CwdDebounce: 140 * time.Millisecond,
		},
		Storage: StorageConfig{
			DBPath: "data/terminal.db",
		},
		Apps: AppsConfig{
			EnvPath:       "/home/ubuntu/workspace/.env",
			DefaultDomain: "localhost",
			ProbeTimeout:  500 * time.Millisecond,
			ProbeHost:     "127.0.0.1",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
		},
	}
}
