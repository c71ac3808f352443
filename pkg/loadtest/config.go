package loadtest

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"logbench/pkg/dispatch"
	"logbench/pkg/stats"
)

// Config describes one load test run. It is passed to the orchestrator at
// construction and never changed afterwards.
type Config struct {
	BaseURL       string        `mapstructure:"base_url" json:"base_url" validate:"required,url"`
	Devices       int           `mapstructure:"devices" json:"devices" validate:"gt=0"`
	LogsPerDevice int           `mapstructure:"logs_per_device" json:"logs_per_device" validate:"gt=0"`
	DevicePrefix  string        `mapstructure:"device_prefix" json:"device_prefix" validate:"required"`
	Concurrency   int           `mapstructure:"concurrency" json:"concurrency" validate:"gt=0"`
	Batching      bool          `mapstructure:"batching" json:"batching"`
	BatchSize     int           `mapstructure:"batch_size" json:"batch_size" validate:"gt=0"`
	Iterations    int           `mapstructure:"iterations" json:"iterations" validate:"gt=0"`
	Interval      time.Duration `mapstructure:"interval" json:"interval" validate:"gte=0"`
	SingleTimeout time.Duration `mapstructure:"single_timeout" json:"single_timeout" validate:"gt=0"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout" json:"batch_timeout" validate:"gt=0"`
	MaxRPS        float64       `mapstructure:"max_rps" json:"max_rps" validate:"gte=0"`
	Seed          int64         `mapstructure:"seed" json:"seed"`
	Targets       stats.Targets `mapstructure:"targets" json:"targets"`
	Sanity        SanityConfig  `mapstructure:"sanity" json:"sanity"`
}

// SanityConfig controls the read-back after the last iteration.
type SanityConfig struct {
	Enabled bool          `mapstructure:"enabled" json:"enabled"`
	Delay   time.Duration `mapstructure:"delay" json:"delay" validate:"gte=0"`
	Limit   int           `mapstructure:"limit" json:"limit" validate:"gte=0"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "http://localhost:18723",
		Devices:       100,
		LogsPerDevice: 100,
		DevicePrefix:  "opt_device_",
		Concurrency:   200,
		Batching:      true,
		BatchSize:     5,
		Iterations:    50,
		Interval:      5 * time.Second,
		SingleTimeout: 10 * time.Second,
		BatchTimeout:  30 * time.Second,
		Targets:       stats.DefaultTargets(),
		Sanity: SanityConfig{
			Enabled: true,
			Delay:   5 * time.Second,
			Limit:   10,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid load test config: %w", err)
	}
	return nil
}

// Mode returns the dispatch mode.
func (c Config) Mode() dispatch.Mode {
	if c.Batching {
		return dispatch.ModeBatch
	}
	return dispatch.ModeSingle
}

// Snapshot returns the part of the configuration recorded with each iteration.
func (c Config) Snapshot() stats.Snapshot {
	return stats.Snapshot{
		Devices:       c.Devices,
		LogsPerDevice: c.LogsPerDevice,
		TotalLogs:     c.Devices * c.LogsPerDevice,
		Concurrency:   c.Concurrency,
		BatchSize:     c.BatchSize,
		Batching:      c.Batching,
		BaseURL:       c.BaseURL,
	}
}

// DispatchOptions returns the dispatcher settings of this configuration.
func (c Config) DispatchOptions(recorder dispatch.Recorder) dispatch.Options {
	return dispatch.Options{
		Mode:          c.Mode(),
		BatchSize:     c.BatchSize,
		SingleTimeout: c.SingleTimeout,
		BatchTimeout:  c.BatchTimeout,
		Recorder:      recorder,
	}
}
