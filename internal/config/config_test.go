package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TERMDECK_PORT", "TERMDECK_SOCKET_PATH", "TERMDECK_PID_PATH",
		"TERMDECK_DB_PATH", "TERMDECK_MAX_SESSIONS", "TERMDECK_DEFAULT_COLS",
		"TERMDECK_DEFAULT_ROWS", "TERMDECK_LOG_LEVEL",
	} {
		// Setenv registers the restore; the variable itself must be absent
		// for the struct defaults to apply.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8700, cfg.Port)
	assert.Equal(t, 12, cfg.MaxSessions)
	assert.Equal(t, 80, cfg.DefaultCols)
	assert.Equal(t, 24, cfg.DefaultRows)
	assert.Equal(t, "info", cfg.LogLevel)

	assert.Contains(t, cfg.SocketPath, ".termdeck")
	assert.Contains(t, cfg.SocketPath, "daemon.sock")
	assert.Contains(t, cfg.PIDPath, "daemon.pid")
	assert.Contains(t, cfg.DBPath, "termdeck.db")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TERMDECK_PORT", "9001")
	t.Setenv("TERMDECK_MAX_SESSIONS", "3")
	t.Setenv("TERMDECK_SOCKET_PATH", "/tmp/custom.sock")
	t.Setenv("TERMDECK_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, 3, cfg.MaxSessions)
	assert.Equal(t, "/tmp/custom.sock", cfg.SocketPath)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("TERMDECK_PORT", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}
