// Package config provides configuration loading for loopcore.
package config

import (
	"fmt"
	"time"

	"github.com/aidkit/loopcore/internal/logging"
)

// Config is the complete loopcore daemon configuration.
type Config struct {
	Loop    LoopConfig     `koanf:"loop"`
	Glucose GlucoseConfig  `koanf:"glucose"`
	Pump    PumpConfig     `koanf:"pump"`
	Store   StoreConfig    `koanf:"store"`
	Profile ProfileConfig  `koanf:"profile"`
	Metrics MetricsConfig  `koanf:"metrics"`
	Log     logging.Config `koanf:"log"`
}

// LoopConfig controls the orchestrator cadence and closed-loop behavior.
type LoopConfig struct {
	// Interval is the minimum time between cycle starts.
	Interval Duration `koanf:"interval"`

	// ClosedLoop enables automatic enactment of determinations.
	ClosedLoop bool `koanf:"closed_loop"`

	// UnsuspendIfNoTemp resumes a suspended pump before determination
	// when no temp basal is running.
	UnsuspendIfNoTemp bool `koanf:"unsuspend_if_no_temp"`

	// DeterminationExpiration invalidates a determination for enactment
	// once its deliver-at timestamp is older than this.
	DeterminationExpiration Duration `koanf:"determination_expiration"`

	// TDDWeightPercentage weights the recent (2h) average against the
	// 10-day average in the weighted TDD.
	TDDWeightPercentage float64 `koanf:"tdd_weight_percentage"`
}

// GlucoseConfig controls the glucose readiness check.
type GlucoseConfig struct {
	// StalenessWindow is the maximum age of the newest sample.
	StalenessWindow Duration `koanf:"staleness_window"`

	// MinSamples is the minimum number of recent samples required.
	MinSamples int `koanf:"min_samples"`

	// FlatnessBand is the per-delta band (mg/dL) below which consecutive
	// samples count as flat.
	FlatnessBand float64 `koanf:"flatness_band"`
}

// PumpConfig carries pump hardware limits.
type PumpConfig struct {
	// MaxBolus caps any single automatic bolus, in units.
	MaxBolus float64 `koanf:"max_bolus"`

	// BasalIncrement is the smallest rate step the pump can deliver.
	BasalIncrement float64 `koanf:"basal_increment"`

	// BolusIncrement is the smallest bolus volume step.
	BolusIncrement float64 `koanf:"bolus_increment"`
}

// StoreConfig locates the history database.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// ProfileConfig locates the basal profile file.
type ProfileConfig struct {
	Path string `koanf:"path"`

	// Watch reloads the profile when the file changes on disk.
	Watch bool `koanf:"watch"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `koanf:"enabled"`
	ListenAddr string `koanf:"listen_addr"`
}

// NewDefaultConfig returns a Config with production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Loop: LoopConfig{
			Interval:                Duration(5 * time.Minute),
			ClosedLoop:              false,
			UnsuspendIfNoTemp:       false,
			DeterminationExpiration: Duration(30 * time.Minute),
			TDDWeightPercentage:     0.65,
		},
		Glucose: GlucoseConfig{
			StalenessWindow: Duration(12 * time.Minute),
			MinSamples:      3,
			FlatnessBand:    1.0,
		},
		Pump: PumpConfig{
			MaxBolus:       10,
			BasalIncrement: 0.05,
			BolusIncrement: 0.05,
		},
		Store: StoreConfig{
			Path: "loopcore.db",
		},
		Profile: ProfileConfig{
			Path:  "basal_profile.yaml",
			Watch: true,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:9464",
		},
		Log: *logging.NewDefaultConfig(),
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Loop.Interval.Duration() <= 0 {
		return fmt.Errorf("loop.interval must be > 0")
	}
	if c.Loop.DeterminationExpiration.Duration() <= 0 {
		return fmt.Errorf("loop.determination_expiration must be > 0")
	}
	if c.Loop.TDDWeightPercentage < 0 || c.Loop.TDDWeightPercentage > 1 {
		return fmt.Errorf("loop.tdd_weight_percentage must be in [0, 1], got %v", c.Loop.TDDWeightPercentage)
	}
	if c.Glucose.StalenessWindow.Duration() <= 0 {
		return fmt.Errorf("glucose.staleness_window must be > 0")
	}
	if c.Glucose.MinSamples < 3 {
		return fmt.Errorf("glucose.min_samples must be >= 3, got %d", c.Glucose.MinSamples)
	}
	if c.Glucose.FlatnessBand < 0 {
		return fmt.Errorf("glucose.flatness_band must be >= 0")
	}
	if c.Pump.MaxBolus <= 0 {
		return fmt.Errorf("pump.max_bolus must be > 0")
	}
	if c.Pump.BasalIncrement <= 0 {
		return fmt.Errorf("pump.basal_increment must be > 0")
	}
	if c.Pump.BolusIncrement <= 0 {
		return fmt.Errorf("pump.bolus_increment must be > 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Profile.Path == "" {
		return fmt.Errorf("profile.path must not be empty")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr must be set when metrics are enabled")
	}
	return c.Log.Validate()
}
