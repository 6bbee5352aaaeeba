package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kapim/era-5g-client/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.NetApp.Host)
	assert.Equal(t, 5896, cfg.NetApp.Port)
	assert.Equal(t, 15, cfg.Stream.FPS)
	assert.Equal(t, 5, cfg.Backpressure.Capacity)
	assert.False(t, cfg.UsesMiddleware())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
middleware:
  address: middleware.example.com:8080
  user: robot
  password: secret
  task_id: task-42
  resource_lock: true
stream:
  fps: 30
  width: 1280
  height: 720
backpressure:
  capacity: 10
log_level: debug
metrics_port: 9100
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.UsesMiddleware())
	assert.Equal(t, "middleware.example.com:8080", cfg.Middleware.Address)
	assert.Equal(t, "task-42", cfg.Middleware.TaskID)
	assert.True(t, cfg.Middleware.ResourceLock)
	assert.Equal(t, 30, cfg.Stream.FPS)
	assert.Equal(t, 10, cfg.Backpressure.Capacity)
	assert.Equal(t, 9100, cfg.MetricsPort)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
netapp:
  host: netapp.example.com
  port: 6000
`)
	t.Setenv("ERA5G_NETAPP_PORT", "7000")
	t.Setenv("ERA5G_STREAM_FPS", "25")
	t.Setenv("ERA5G_RESOURCE_LOCK", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "netapp.example.com", cfg.NetApp.Host)
	assert.Equal(t, 7000, cfg.NetApp.Port)
	assert.Equal(t, 25, cfg.Stream.FPS)
	assert.True(t, cfg.Middleware.ResourceLock)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "stream: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Backpressure.Capacity = 0 }},
		{"zero fps", func(c *Config) { c.Stream.FPS = 0 }},
		{"negative width", func(c *Config) { c.Stream.Width = -1 }},
		{"no targets", func(c *Config) { c.NetApp.Host = "" }},
		{"port out of range", func(c *Config) { c.NetApp.Port = 70000 }},
		{"middleware without task", func(c *Config) { c.Middleware.Address = "mw:8080" }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)
		})
	}

	assert.NoError(t, Default().Validate())
}
