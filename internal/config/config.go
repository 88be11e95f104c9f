// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

// Package config loads and validates the relayd configuration. Values are
// layered: struct defaults, then an optional YAML file, then RELAYD_*
// environment variables (RELAYD_NATS_URL overrides nats.url).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file locations searched in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/relayd/config.yaml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "RELAYD_CONFIG"

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Abuse    AbuseConfig    `koanf:"abuse"`
	Auth     AuthConfig     `koanf:"auth"`
	NATS     NATSConfig     `koanf:"nats"`
	Stats    StatsConfig    `koanf:"stats"`
	Store    StoreConfig    `koanf:"store"`
}

// StoreConfig configures the project and user store backing the handshake.
type StoreConfig struct {
	// SeedFile optionally loads projects and users from a JSON fixture,
	// for standalone and development deployments.
	SeedFile string `koanf:"seed_file"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// RealtimeConfig configures the fan-out core.
type RealtimeConfig struct {
	// ConsoleProject is the distinguished platform-administration project.
	// Its connections are exempt from origin checks and receive cross-node
	// statistics.
	ConsoleProject string `koanf:"console_project" validate:"required"`

	// MaxMessageSize caps inbound client frames, in bytes.
	MaxMessageSize int64 `koanf:"max_message_size" validate:"min=1024"`

	// SendBuffer is the per-connection outbound frame buffer.
	SendBuffer int `koanf:"send_buffer" validate:"min=1"`
}

// AbuseConfig configures the abuse limiters. Disabled turns every check
// into a no-op pass.
type AbuseConfig struct {
	Enabled       bool          `koanf:"enabled"`
	ConnectLimit  int64         `koanf:"connect_limit" validate:"min=1"`
	ConnectWindow time.Duration `koanf:"connect_window" validate:"min=1s"`
	MessageLimit  int64         `koanf:"message_limit" validate:"min=1"`
	MessageWindow time.Duration `koanf:"message_window" validate:"min=1s"`
	MaxKeys       int           `koanf:"max_keys" validate:"min=0"`
}

// AuthConfig configures session token verification.
type AuthConfig struct {
	// SessionSecret signs and verifies the HS256 session tokens presented
	// in "authentication" messages.
	SessionSecret string `koanf:"session_secret" validate:"required,min=32"`
}

// NATSConfig configures the cross-node bus connection.
type NATSConfig struct {
	URL string `koanf:"url" validate:"required"`

	// Subject is the shared pub/sub subject every node subscribes to.
	Subject string `koanf:"subject" validate:"required"`

	// MaxReconnectAttempts bounds consecutive failed bridge sessions before
	// the service gives up with a fatal operational error.
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts" validate:"min=1"`
	ReconnectDelay       time.Duration `koanf:"reconnect_delay" validate:"min=100ms"`
}

// StatsConfig configures the cross-node statistics aggregation.
type StatsConfig struct {
	// Bucket is the shared KV bucket holding per-node snapshot documents.
	Bucket string `koanf:"bucket" validate:"required"`

	// Interval drives both the snapshot persist tick and the aggregate
	// broadcast tick.
	Interval time.Duration `koanf:"interval" validate:"min=1s"`

	// Freshness is the age beyond which another node's snapshot is ignored.
	Freshness time.Duration `koanf:"freshness" validate:"min=1s"`

	// HeartbeatInterval drives the test.event connectivity heartbeat.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval" validate:"min=1s"`
}

// defaultConfig returns the built-in defaults, applied before file and
// environment overrides.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Realtime: RealtimeConfig{
			ConsoleProject: "console",
			MaxMessageSize: 64 * 1024,
			SendBuffer:     256,
		},
		Abuse: AbuseConfig{
			Enabled:       true,
			ConnectLimit:  128,
			ConnectWindow: 60 * time.Second,
			MessageLimit:  32,
			MessageWindow: 60 * time.Second,
			MaxKeys:       100_000,
		},
		Auth: AuthConfig{
			SessionSecret: "",
		},
		NATS: NATSConfig{
			URL:                  "nats://127.0.0.1:4222",
			Subject:              "realtime",
			MaxReconnectAttempts: 300,
			ReconnectDelay:       5 * time.Second,
		},
		Stats: StatsConfig{
			Bucket:            "realtime",
			Interval:          5 * time.Second,
			Freshness:         15 * time.Second,
			HeartbeatInterval: 5 * time.Second,
		},
	}
}

// Load reads the configuration from defaults, an optional YAML file, and
// the environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := configFilePath(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// RELAYD_NATS_URL -> nats.url, RELAYD_ABUSE_CONNECT_LIMIT -> abuse.connect_limit.
	if err := k.Load(env.Provider("RELAYD_", ".", envKeyTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKeyTransform maps RELAYD_SECTION_SOME_KEY to section.some_key. Only the
// first underscore separates the section; the rest stay part of the key.
func envKeyTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "RELAYD_"))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}

func configFilePath() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate checks the configuration against its declared constraints.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
