// Package config provides configuration for the chat client and the dev server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the chat client configuration.
type Config struct {
	// Backend endpoints
	APIURL string `env:"CHAT_API_URL" envDefault:"http://localhost:8090"`
	WSURL  string `env:"CHAT_WS_URL" envDefault:"ws://localhost:8090/ws/chat"`

	// Auth settings
	AuthToken string `env:"CHAT_AUTH_TOKEN"`

	// Initial chat type
	ChatType string `env:"CHAT_TYPE" envDefault:"general"`

	// Timeouts
	HTTPTimeoutMs int `env:"CHAT_HTTP_TIMEOUT_MS" envDefault:"30000"`
	TurnTimeoutMs int `env:"CHAT_TURN_TIMEOUT_MS" envDefault:"60000"`

	// WebSocket settings
	PingIntervalMs int   `env:"WS_PING_INTERVAL_MS" envDefault:"30000"`
	WriteTimeoutMs int   `env:"WS_WRITE_TIMEOUT_MS" envDefault:"10000"`
	ReadTimeoutMs  int   `env:"WS_READ_TIMEOUT_MS" envDefault:"60000"`
	MaxMessageSize int64 `env:"WS_MAX_MESSAGE_SIZE" envDefault:"65536"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPTimeout returns the REST request timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMs) * time.Millisecond
}

// TurnTimeout returns how long a streaming turn may go without a frame.
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutMs) * time.Millisecond
}

// PingInterval returns the keepalive ping interval.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMs) * time.Millisecond
}

// WriteTimeout returns the websocket write deadline.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// ReadTimeout returns the websocket read deadline.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// DevServerConfig holds the reference backend configuration.
type DevServerConfig struct {
	HTTPPort       int      `env:"DEV_HTTP_PORT" envDefault:"8090"`
	DatabaseURL    string   `env:"DEV_DATABASE_URL" envDefault:"file:chatcore.db?cache=shared&mode=rwc"`
	APITokens      []string `env:"DEV_API_TOKENS" envSeparator:","`
	ChunkDelayMs   int      `env:"DEV_CHUNK_DELAY_MS" envDefault:"40"`
	ChunkSize      int      `env:"DEV_CHUNK_SIZE" envDefault:"8"`
	PingIntervalMs int      `env:"WS_PING_INTERVAL_MS" envDefault:"30000"`
	WriteTimeoutMs int      `env:"WS_WRITE_TIMEOUT_MS" envDefault:"10000"`
	ReadTimeoutMs  int      `env:"WS_READ_TIMEOUT_MS" envDefault:"60000"`
	MaxMessageSize int64    `env:"WS_MAX_MESSAGE_SIZE" envDefault:"65536"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty      bool     `env:"LOG_PRETTY" envDefault:"false"`
}

// ChunkDelay returns the pause between streamed chunks.
func (c *DevServerConfig) ChunkDelay() time.Duration {
	return time.Duration(c.ChunkDelayMs) * time.Millisecond
}

// PingInterval returns the keepalive ping interval.
func (c *DevServerConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMs) * time.Millisecond
}

// WriteTimeout returns the websocket write deadline.
func (c *DevServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// ReadTimeout returns the websocket read deadline.
func (c *DevServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// LoadEnvFile loads variables from path into the process environment.
// An empty path is a no-op.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load loads client configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	return &cfg, nil
}

// LoadDevServer loads dev server configuration from environment variables.
func LoadDevServer() (*DevServerConfig, error) {
	var cfg DevServerConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse dev server config: %w", err)
	}
	return &cfg, nil
}
