package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	WaitTimeout time.Duration
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("ERA5G_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: ERA5G_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("ERA5G_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: ERA5G_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("ERA5G_LOG_LEVEL", ""),
		"Log level override: debug, info, warn, error (env: ERA5G_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("ERA5G_LOG_FORMAT", "text"),
		"Log format: json, text (env: ERA5G_LOG_FORMAT)")

	flag.DurationVar(&cfg.WaitTimeout, "wait-timeout",
		getEnvDuration("ERA5G_WAIT_TIMEOUT", 30*time.Second),
		"How long to wait for the network application, 0 for unbounded (env: ERA5G_WAIT_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.WaitTimeout < 0 {
		return fmt.Errorf("invalid wait timeout: %s", cfg.WaitTimeout)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - 5G-ERA network application client

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Connect directly to a network application
  export ERA5G_NETAPP_HOST=192.168.1.10
  %s

  # Deploy through the orchestration middleware
  %s --config=/etc/era5g/client.yaml

  # Validate configuration only
  %s --config=/etc/era5g/client.yaml --validate

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
