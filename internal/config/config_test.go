// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RELAYD_AUTH_SESSION_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "console", cfg.Realtime.ConsoleProject)
	assert.Equal(t, int64(64*1024), cfg.Realtime.MaxMessageSize)
	assert.True(t, cfg.Abuse.Enabled)
	assert.Equal(t, int64(128), cfg.Abuse.ConnectLimit)
	assert.Equal(t, int64(32), cfg.Abuse.MessageLimit)
	assert.Equal(t, 60*time.Second, cfg.Abuse.ConnectWindow)
	assert.Equal(t, "realtime", cfg.NATS.Subject)
	assert.Equal(t, 300, cfg.NATS.MaxReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.Stats.Interval)
	assert.Equal(t, 15*time.Second, cfg.Stats.Freshness)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RELAYD_AUTH_SESSION_SECRET", testSecret)
	t.Setenv("RELAYD_SERVER_PORT", "9999")
	t.Setenv("RELAYD_NATS_MAX_RECONNECT_ATTEMPTS", "10")
	t.Setenv("RELAYD_NATS_RECONNECT_DELAY", "250ms")
	t.Setenv("RELAYD_ABUSE_ENABLED", "false")
	t.Setenv("RELAYD_REALTIME_CONSOLE_PROJECT", "admin")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 10, cfg.NATS.MaxReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.NATS.ReconnectDelay)
	assert.False(t, cfg.Abuse.Enabled)
	assert.Equal(t, "admin", cfg.Realtime.ConsoleProject)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8443
abuse:
  connect_limit: 16
nats:
  subject: events
`), 0o600))

	t.Setenv("RELAYD_AUTH_SESSION_SECRET", testSecret)
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, int64(16), cfg.Abuse.ConnectLimit)
	assert.Equal(t, "events", cfg.NATS.Subject)
	// Untouched values keep their defaults.
	assert.Equal(t, int64(32), cfg.Abuse.MessageLimit)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8443\n"), 0o600))

	t.Setenv("RELAYD_AUTH_SESSION_SECRET", testSecret)
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("RELAYD_SERVER_PORT", "9001")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
}

func TestValidation(t *testing.T) {
	t.Setenv("RELAYD_AUTH_SESSION_SECRET", "too-short")
	_, err := Load()
	require.Error(t, err, "session secret below the minimum length must fail validation")

	t.Setenv("RELAYD_AUTH_SESSION_SECRET", testSecret)
	t.Setenv("RELAYD_SERVER_PORT", "70000")
	_, err = Load()
	require.Error(t, err, "out-of-range port must fail validation")
}

func TestEnvKeyTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RELAYD_SERVER_PORT", "server.port"},
		{"RELAYD_NATS_MAX_RECONNECT_ATTEMPTS", "nats.max_reconnect_attempts"},
		{"RELAYD_ABUSE_CONNECT_LIMIT", "abuse.connect_limit"},
		{"RELAYD_STORE_SEED_FILE", "store.seed_file"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, envKeyTransform(tc.in), tc.in)
	}
}
