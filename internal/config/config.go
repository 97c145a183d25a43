// Package config handles configuration loading and validation for the
// foolscrate agent. Values come from a YAML file overridden by
// FOOLSCRATE_-prefixed environment variables; commands that do not run the
// agent work with a zero config and built-in defaults.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// envPrefix namespaces every environment override.
const envPrefix = "FOOLSCRATE_"

// RegistryConfig locates the tracked-set document and its lock.
type RegistryConfig struct {
	Path     string `yaml:"path" env:"PATH"`
	LockPath string `yaml:"lock_path" env:"LOCK_PATH"`
}

// SyncConfig tunes sweeps and per-replica reconciliation.
type SyncConfig struct {
	Interval      string `yaml:"interval" env:"INTERVAL"`             // between periodic sweeps, e.g. "1m"
	Attempts      int    `yaml:"attempts" env:"ATTEMPTS"`             // reconciliation retry budget
	MergeBackoff  string `yaml:"merge_backoff" env:"MERGE_BACKOFF"`   // between retryable attempts
	JitterMin     string `yaml:"jitter_min" env:"JITTER_MIN"`         // pause before each replica
	JitterMax     string `yaml:"jitter_max" env:"JITTER_MAX"`
	FleetLockPath string `yaml:"fleet_lock_path" env:"FLEET_LOCK_PATH"`
}

// WatchConfig enables change-triggered sweeps between the periodic ones.
type WatchConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Debounce string `yaml:"debounce" env:"DEBOUNCE"` // quiet period after the last event
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Listen  string `yaml:"listen" env:"LISTEN"`
}

// AgentConfig holds configuration for the resident agent.
type AgentConfig struct {
	LogLevel string         `yaml:"log_level" env:"LOG_LEVEL"`
	Registry RegistryConfig `yaml:"registry" envPrefix:"REGISTRY_"`
	Sync     SyncConfig     `yaml:"sync" envPrefix:"SYNC_"`
	Watch    WatchConfig    `yaml:"watch" envPrefix:"WATCH_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
}

// DefaultPath returns the per-user agent config location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".foolscrate", "agent.yaml"), nil
}

// Load reads the agent configuration. An empty path skips the file and
// yields defaults plus environment overrides; a missing explicit path is
// an error.
func Load(path string) (*AgentConfig, error) {
	cfg := &AgentConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("read environment overrides: %w", err)
	}

	// Apply defaults
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = "~/.foolscrate/registry.yaml"
	}
	if cfg.Registry.LockPath == "" {
		cfg.Registry.LockPath = "~/.foolscrate/registry.lock"
	}
	if cfg.Sync.Interval == "" {
		cfg.Sync.Interval = "1m"
	}
	if cfg.Sync.Attempts == 0 {
		cfg.Sync.Attempts = 5
	}
	if cfg.Sync.MergeBackoff == "" {
		cfg.Sync.MergeBackoff = "1s"
	}
	if cfg.Sync.JitterMin == "" {
		cfg.Sync.JitterMin = "1s"
	}
	if cfg.Sync.JitterMax == "" {
		cfg.Sync.JitterMax = "4s"
	}
	if cfg.Sync.FleetLockPath == "" {
		cfg.Sync.FleetLockPath = "~/.foolscrate.sync_all_tracked.lock"
	}
	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = "2s"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = "127.0.0.1:9321"
	}

	// Expand home directory in paths
	cfg.Registry.Path = expandHome(cfg.Registry.Path)
	cfg.Registry.LockPath = expandHome(cfg.Registry.LockPath)
	cfg.Sync.FleetLockPath = expandHome(cfg.Sync.FleetLockPath)

	return cfg, nil
}

// Validate checks if the agent configuration is valid.
func (c *AgentConfig) Validate() error {
	for _, d := range []struct {
		name  string
		value string
	}{
		{"sync.interval", c.Sync.Interval},
		{"sync.merge_backoff", c.Sync.MergeBackoff},
		{"sync.jitter_min", c.Sync.JitterMin},
		{"sync.jitter_max", c.Sync.JitterMax},
		{"watch.debounce", c.Watch.Debounce},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}
	if c.Sync.Attempts < 1 {
		return fmt.Errorf("sync.attempts must be at least 1")
	}
	jmin, _ := time.ParseDuration(c.Sync.JitterMin)
	jmax, _ := time.ParseDuration(c.Sync.JitterMax)
	if jmax < jmin {
		return fmt.Errorf("sync.jitter_max must not be below sync.jitter_min")
	}
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}
	}
	return nil
}

// ParseDuration parses a duration string, substituting def when s is empty.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
