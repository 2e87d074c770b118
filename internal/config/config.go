// Package config loads and persists deckhand configuration from
// .deckhand/config.yaml, with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all deckhand configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Worker pool settings
	Compute ComputeConfig `yaml:"compute"`

	// Prometheus exporter
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ComputeConfig sizes the two worker pool tiers. Worker counts of zero
// mean "derive from the CPU count at startup".
type ComputeConfig struct {
	InteractiveWorkers int    `yaml:"interactive_workers"`
	BackgroundWorkers  int    `yaml:"background_workers"`
	MaxQueue           int    `yaml:"max_queue"`
	IdleTimeout        string `yaml:"idle_timeout"`
	ShutdownTimeout    string `yaml:"shutdown_timeout"`
	ZeroCopy           bool   `yaml:"zero_copy"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig configures the categorized debug logging. It mirrors
// what internal/logging reads from the same file.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "deckhand",
		Version: "0.4.0",

		Compute: ComputeConfig{
			InteractiveWorkers: 0, // derive from CPU count
			BackgroundWorkers:  0, // derive from CPU count
			MaxQueue:           1000,
			IdleTimeout:        "30s",
			ShutdownTimeout:    "10s",
			ZeroCopy:           true,
		},

		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9290",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ConfigPath returns the config file location inside a workspace.
func ConfigPath(workspace string) string {
	return filepath.Join(workspace, ".deckhand", "config.yaml")
}

// Load loads configuration from a YAML file. A missing file is not an
// error; defaults apply, then any environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DECKHAND_INTERACTIVE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Compute.InteractiveWorkers = n
		}
	}
	if v := os.Getenv("DECKHAND_BACKGROUND_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Compute.BackgroundWorkers = n
		}
	}
	if v := os.Getenv("DECKHAND_MAX_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Compute.MaxQueue = n
		}
	}
	if v := os.Getenv("DECKHAND_IDLE_TIMEOUT"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			c.Compute.IdleTimeout = v
		}
	}
	if v := os.Getenv("DECKHAND_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
		c.Metrics.Enabled = true
	}
	if v := os.Getenv("DECKHAND_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// GetIdleTimeout returns the background idle timeout as a duration.
func (c *Config) GetIdleTimeout() time.Duration {
	d, err := time.ParseDuration(c.Compute.IdleTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetShutdownTimeout returns the pool shutdown window as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Compute.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "warning", "error"}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Compute.InteractiveWorkers < 0 {
		return fmt.Errorf("compute.interactive_workers must not be negative, got %d", c.Compute.InteractiveWorkers)
	}
	if c.Compute.BackgroundWorkers < 0 {
		return fmt.Errorf("compute.background_workers must not be negative, got %d", c.Compute.BackgroundWorkers)
	}
	if c.Compute.MaxQueue < 1 {
		return fmt.Errorf("compute.max_queue must be at least 1, got %d", c.Compute.MaxQueue)
	}
	if c.Compute.IdleTimeout != "" {
		if _, err := time.ParseDuration(c.Compute.IdleTimeout); err != nil {
			return fmt.Errorf("compute.idle_timeout is not a duration: %w", err)
		}
	}
	if c.Compute.ShutdownTimeout != "" {
		if _, err := time.ParseDuration(c.Compute.ShutdownTimeout); err != nil {
			return fmt.Errorf("compute.shutdown_timeout is not a duration: %w", err)
		}
	}
	if c.Logging.Level != "" {
		valid := false
		for _, l := range ValidLogLevels {
			if c.Logging.Level == l {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("logging.level must be one of %v, got %q", ValidLogLevels, c.Logging.Level)
		}
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen required when metrics.enabled is true")
	}
	return nil
}
