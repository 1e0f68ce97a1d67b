// Package config loads gateway configuration from a YAML file with
// environment variable overrides. Every field has a usable default so the
// gateway runs with no config file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PicklesTheWise/Pickle-Reef/errors"
)

// Config is the complete gateway configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Trace     TraceConfig     `yaml:"trace"`
	Retention RetentionConfig `yaml:"retention"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	LogLevel  string          `yaml:"log_level"`
}

// HTTPConfig configures the combined API and websocket listener.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// RehydrateWindow bounds how far back status traces are replayed into
	// the usage ledger on a fresh database.
	RehydrateWindow time.Duration `yaml:"rehydrate_window"`
}

// TraceConfig configures the websocket frame trace.
type TraceConfig struct {
	Enabled      bool    `yaml:"enabled"`
	MaxPerSecond float64 `yaml:"max_per_second"`
}

// RetentionConfig bounds history table growth.
type RetentionConfig struct {
	PruneInterval time.Duration `yaml:"prune_interval"`
	UsageRows     int           `yaml:"usage_rows"`
	CycleRows     int           `yaml:"cycle_rows"`
	TraceRows     int           `yaml:"trace_rows"`
	TraceAge      time.Duration `yaml:"trace_age"`
	SnapshotRows  int           `yaml:"snapshot_rows"`
	SnapshotAge   time.Duration `yaml:"snapshot_age"`
	TelemetryRows int           `yaml:"telemetry_rows"`
	TelemetryAge  time.Duration `yaml:"telemetry_age"`
}

// BridgeConfig configures the optional NATS event bridge.
type BridgeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			ListenAddr: ":8000",
		},
		Database: DatabaseConfig{
			Path: "reefgate.db",
			// Matches the trace log's default calendar retention, so replay
			// covers everything the trace can still answer for.
			RehydrateWindow: 14 * 24 * time.Hour,
		},
		Trace: TraceConfig{
			Enabled:      true,
			MaxPerSecond: 10,
		},
		Retention: RetentionConfig{
			PruneInterval: time.Hour,
			UsageRows:     5000,
			CycleRows:     20000,
			TraceRows:     10000,
			TraceAge:      14 * 24 * time.Hour,
			SnapshotRows:  100000,
			SnapshotAge:   30 * 24 * time.Hour,
			TelemetryRows: 50000,
			TelemetryAge:  30 * 24 * time.Hour,
		},
		Bridge: BridgeConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "reef",
		},
		LogLevel: "info",
	}
}

// Load reads the config file at path (when it exists), applies environment
// overrides, and validates the result. An empty path skips the file step.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errors.WrapFatal(err, "Config", "Load", "reading config file")
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parsing config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps REEFGATE_* variables onto config fields. Only the
// settings that vary per deployment get an override.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REEFGATE_LISTEN_ADDR"); v != "" {
		cfg.HTTP.ListenAddr = v
	}
	if v := os.Getenv("REEFGATE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("REEFGATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REEFGATE_TRACE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Trace.Enabled = enabled
		}
	}
	if v := os.Getenv("REEFGATE_BRIDGE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Bridge.Enabled = enabled
		}
	}
	if v := os.Getenv("REEFGATE_BRIDGE_URL"); v != "" {
		cfg.Bridge.URL = v
	}
	if v := os.Getenv("REEFGATE_BRIDGE_PREFIX"); v != "" {
		cfg.Bridge.SubjectPrefix = v
	}
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.HTTP.ListenAddr == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"http.listen_addr must not be empty")
	}
	if c.Database.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"database.path must not be empty")
	}
	if c.Database.RehydrateWindow < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"database.rehydrate_window must not be negative")
	}
	if c.Trace.MaxPerSecond <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"trace.max_per_second must be positive")
	}
	if c.Retention.PruneInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retention.prune_interval must be positive")
	}
	if c.Bridge.Enabled && c.Bridge.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"bridge.url required when bridge is enabled")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown log level %q", c.LogLevel))
	}
	return nil
}
