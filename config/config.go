// Package config loads the client configuration from YAML with environment
// overrides. Precedence, lowest to highest: defaults, file, ERA5G_* env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Kapim/era-5g-client/client"
	"github.com/Kapim/era-5g-client/errors"
	"github.com/Kapim/era-5g-client/middleware"
	"github.com/Kapim/era-5g-client/transport"
)

// Config is the complete client configuration.
type Config struct {
	Middleware   MiddlewareConfig   `yaml:"middleware"`
	NetApp       NetAppConfig       `yaml:"netapp"`
	Stream       StreamConfig       `yaml:"stream"`
	Backpressure BackpressureConfig `yaml:"backpressure"`
	LogLevel     string             `yaml:"log_level"`
	MetricsPort  int                `yaml:"metrics_port"`
}

// MiddlewareConfig points at the orchestration middleware. When Address is
// empty the client connects directly to the NetApp target instead.
type MiddlewareConfig struct {
	Address      string `yaml:"address"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	TaskID       string `yaml:"task_id"`
	ResourceLock bool   `yaml:"resource_lock"`
}

// NetAppConfig is the direct connection target, used without a middleware.
type NetAppConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StreamConfig describes the outgoing frame stream.
type StreamConfig struct {
	FPS    int `yaml:"fps"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// BackpressureConfig bounds the data channel window.
type BackpressureConfig struct {
	Capacity int `yaml:"capacity"`
}

// Default returns the configuration baseline.
func Default() *Config {
	return &Config{
		NetApp: NetAppConfig{
			Host: "127.0.0.1",
			Port: middleware.DefaultNetAppPort,
		},
		Stream: StreamConfig{
			FPS:    15,
			Width:  640,
			Height: 480,
		},
		Backpressure: BackpressureConfig{
			Capacity: client.DefaultBackpressureCapacity,
		},
		LogLevel:    "info",
		MetricsPort: 0,
	}
}

// Load reads the configuration. Path may be empty to use defaults plus env
// overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %w", errors.ErrInvalidConfiguration, err),
				"config", "Load", "parse config file")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays ERA5G_* environment variables.
func (c *Config) applyEnv() {
	envString("ERA5G_MIDDLEWARE_ADDRESS", &c.Middleware.Address)
	envString("ERA5G_MIDDLEWARE_USER", &c.Middleware.User)
	envString("ERA5G_MIDDLEWARE_PASSWORD", &c.Middleware.Password)
	envString("ERA5G_TASK_ID", &c.Middleware.TaskID)
	envBool("ERA5G_RESOURCE_LOCK", &c.Middleware.ResourceLock)
	envString("ERA5G_NETAPP_HOST", &c.NetApp.Host)
	envInt("ERA5G_NETAPP_PORT", &c.NetApp.Port)
	envInt("ERA5G_STREAM_FPS", &c.Stream.FPS)
	envInt("ERA5G_STREAM_WIDTH", &c.Stream.Width)
	envInt("ERA5G_STREAM_HEIGHT", &c.Stream.Height)
	envInt("ERA5G_BACKPRESSURE_CAPACITY", &c.Backpressure.Capacity)
	envString("ERA5G_LOG_LEVEL", &c.LogLevel)
	envInt("ERA5G_METRICS_PORT", &c.MetricsPort)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Backpressure.Capacity < 1 {
		return invalid("backpressure.capacity must be at least 1, got %d", c.Backpressure.Capacity)
	}
	if c.Stream.FPS < 1 {
		return invalid("stream.fps must be at least 1, got %d", c.Stream.FPS)
	}
	if c.Stream.Width < 1 || c.Stream.Height < 1 {
		return invalid("stream dimensions must be positive, got %dx%d", c.Stream.Width, c.Stream.Height)
	}
	if c.Middleware.Address == "" {
		if c.NetApp.Host == "" {
			return invalid("either middleware.address or netapp.host is required")
		}
		if c.NetApp.Port < 1 || c.NetApp.Port > 65535 {
			return invalid("netapp.port %d out of range", c.NetApp.Port)
		}
	} else if c.Middleware.TaskID == "" {
		return invalid("middleware.task_id is required when a middleware address is set")
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return invalid("metrics_port %d out of range", c.MetricsPort)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfiguration, fmt.Sprintf(format, args...)),
		"config", "Validate", "validate configuration")
}

// UsesMiddleware reports whether sessions are brokered by a middleware.
func (c *Config) UsesMiddleware() bool {
	return c.Middleware.Address != ""
}

// NetAppTarget returns the direct connection target.
func (c *Config) NetAppTarget() transport.Target {
	return transport.Target{Host: c.NetApp.Host, Port: c.NetApp.Port}
}

// SlogLevel resolves the configured log level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, invalid("unknown log level %q", c.LogLevel)
	}
}
