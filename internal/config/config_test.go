package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/analytics")
	t.Setenv("AUTH_SERVICE_URL", "http://auth.internal:8081")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, int64(10000), cfg.MaxConnections)
	assert.Equal(t, 100, cfg.MaxConnectionsPerIP)
	assert.Equal(t, 10.0, cfg.ConnectionsPerSecond)
	assert.Equal(t, 20, cfg.ConnectionBurst)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.StreamMinInterval)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_CONNECTIONS", "500")
	t.Setenv("MAX_CONNECTIONS_PER_IP", "25")
	t.Setenv("CONNECTIONS_PER_SECOND", "2.5")
	t.Setenv("CONNECTION_BURST", "5")
	t.Setenv("HEARTBEAT_INTERVAL", "10s")
	t.Setenv("STREAM_MIN_INTERVAL", "500ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.AppEnv)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, int64(500), cfg.MaxConnections)
	assert.Equal(t, 25, cfg.MaxConnectionsPerIP)
	assert.Equal(t, 2.5, cfg.ConnectionsPerSecond)
	assert.Equal(t, 5, cfg.ConnectionBurst)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.StreamMinInterval)
}

func TestLoad_RequiredVariables(t *testing.T) {
	cases := []struct {
		name    string
		missing string
	}{
		{"missing redis url", "REDIS_URL"},
		{"missing database url", "DATABASE_URL"},
		{"missing auth service url", "AUTH_SERVICE_URL"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.missing, "")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.missing)
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric max connections", "MAX_CONNECTIONS", "lots"},
		{"non-numeric per-ip limit", "MAX_CONNECTIONS_PER_IP", "many"},
		{"non-numeric rate", "CONNECTIONS_PER_SECOND", "fast"},
		{"malformed heartbeat interval", "HEARTBEAT_INTERVAL", "30"},
		{"negative stream interval", "STREAM_MIN_INTERVAL", "-1s"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := Load()
			require.Error(t, err)
		})
	}
}
