package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dotsetgreg/mnemo/pkg/memory"
)

// Config is the process-level configuration: JSON file first, environment
// overrides second.
type Config struct {
	Store     StoreConfig     `json:"store"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Janitor   JanitorConfig   `json:"janitor"`
}

type StoreConfig struct {
	Path           string `json:"path" env:"MNEMO_STORE_PATH"`
	WriteRetries   int    `json:"write_retries" env:"MNEMO_STORE_WRITE_RETRIES"`
	RetryBackoffMS int    `json:"retry_backoff_ms" env:"MNEMO_STORE_RETRY_BACKOFF_MS"`
	BusyTimeoutMS  int    `json:"busy_timeout_ms" env:"MNEMO_STORE_BUSY_TIMEOUT_MS"`
}

type TelemetryConfig struct {
	RingSize        int `json:"ring_size" env:"MNEMO_TELEMETRY_RING_SIZE"`
	QueueDepth      int `json:"queue_depth" env:"MNEMO_TELEMETRY_QUEUE_DEPTH"`
	SlowThresholdMS int `json:"slow_threshold_ms" env:"MNEMO_TELEMETRY_SLOW_THRESHOLD_MS"`
}

type JanitorConfig struct {
	CompactSchedule         string `json:"compact_schedule" env:"MNEMO_JANITOR_COMPACT_SCHEDULE"`
	SweepSchedule           string `json:"sweep_schedule" env:"MNEMO_JANITOR_SWEEP_SCHEDULE"`
	RetentionDays           int    `json:"retention_days" env:"MNEMO_JANITOR_RETENTION_DAYS"`
	TelemetryRetentionHours int    `json:"telemetry_retention_hours" env:"MNEMO_JANITOR_TELEMETRY_RETENTION_HOURS"`
}

// DefaultConfig returns the baseline configuration with the store under the
// user's home directory.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Store: StoreConfig{
			Path:           filepath.Join(home, ".mnemo", "state", "memory.db"),
			WriteRetries:   3,
			RetryBackoffMS: 100,
			BusyTimeoutMS:  5000,
		},
		Telemetry: TelemetryConfig{
			RingSize:        500,
			QueueDepth:      256,
			SlowThresholdMS: 250,
		},
		Janitor: JanitorConfig{
			CompactSchedule:         "30 3 * * *",
			SweepSchedule:           "0 4 * * *",
			RetentionDays:           0,
			TelemetryRetentionHours: 168,
		},
	}
}

// Load builds the effective configuration: defaults, then the JSON file at
// path if it exists, then environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// No file is fine; env and defaults apply.
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config env: %w", err)
	}
	return cfg, nil
}

// EngineConfig maps the file/env view onto the engine's config.
func (c *Config) EngineConfig() memory.Config {
	return memory.Config{
		Path:                c.Store.Path,
		WriteRetries:        c.Store.WriteRetries,
		RetryBackoff:        time.Duration(c.Store.RetryBackoffMS) * time.Millisecond,
		BusyTimeout:         time.Duration(c.Store.BusyTimeoutMS) * time.Millisecond,
		TelemetryRingSize:   c.Telemetry.RingSize,
		TelemetryQueueDepth: c.Telemetry.QueueDepth,
		SlowOpThreshold:     time.Duration(c.Telemetry.SlowThresholdMS) * time.Millisecond,
	}
}

// JanitorConfig maps the file/env view onto the janitor's config.
func (c *Config) JanitorConfig() memory.JanitorConfig {
	return memory.JanitorConfig{
		CompactSchedule:    c.Janitor.CompactSchedule,
		SweepSchedule:      c.Janitor.SweepSchedule,
		RetentionDays:      c.Janitor.RetentionDays,
		TelemetryRetention: time.Duration(c.Janitor.TelemetryRetentionHours) * time.Hour,
	}
}
