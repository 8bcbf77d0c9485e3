// Package config resolves server settings from defaults, an optional
// YAML file, and SECTIONTWIN_* environment variables, in increasing
// precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the server needs to start.
type Config struct {
	// ListenAddr is the HTTP control API bind address.
	ListenAddr string `mapstructure:"listen_addr"`

	// MetricsAddr serves Prometheus metrics; empty shares ListenAddr.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// SectionPath points at the section topology JSON file.
	SectionPath string `mapstructure:"section_path"`

	// TickSeconds is the simulation step.
	TickSeconds int `mapstructure:"tick_seconds"`

	// HorizonMinutes bounds conflict prediction and impact simulation.
	HorizonMinutes int `mapstructure:"horizon_minutes"`

	// SolverBudgetSeconds caps the exact search per optimization
	// request; zero answers every request with the heuristic.
	SolverBudgetSeconds int `mapstructure:"solver_budget_seconds"`

	// KPIPath is the SQLite file for indicator history; empty keeps
	// KPIs in memory.
	KPIPath string `mapstructure:"kpi_path"`

	// FeedSeed drives the synthetic feed; FeedSpawnEvery is in ticks
	// and zero disables the feed entirely.
	FeedSeed       int64 `mapstructure:"feed_seed"`
	FeedSpawnEvery int   `mapstructure:"feed_spawn_every"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		ListenAddr:          ":8080",
		TickSeconds:         5,
		HorizonMinutes:      30,
		SolverBudgetSeconds: 30,
		FeedSeed:            1,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// Load merges defaults, the optional file at path, and environment
// overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	def := Defaults()
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("section_path", def.SectionPath)
	v.SetDefault("tick_seconds", def.TickSeconds)
	v.SetDefault("horizon_minutes", def.HorizonMinutes)
	v.SetDefault("solver_budget_seconds", def.SolverBudgetSeconds)
	v.SetDefault("kpi_path", def.KPIPath)
	v.SetDefault("feed_seed", def.FeedSeed)
	v.SetDefault("feed_spawn_every", def.FeedSpawnEvery)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)

	v.SetEnvPrefix("SECTIONTWIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.TickSeconds <= 0 {
		return fmt.Errorf("tick_seconds must be positive, got %d", c.TickSeconds)
	}
	if c.HorizonMinutes <= 0 {
		return fmt.Errorf("horizon_minutes must be positive, got %d", c.HorizonMinutes)
	}
	if c.SolverBudgetSeconds < 0 {
		return fmt.Errorf("solver_budget_seconds must not be negative, got %d", c.SolverBudgetSeconds)
	}
	return nil
}

// Tick returns the simulation step as a duration.
func (c Config) Tick() time.Duration { return time.Duration(c.TickSeconds) * time.Second }

// Horizon returns the prediction horizon as a duration.
func (c Config) Horizon() time.Duration { return time.Duration(c.HorizonMinutes) * time.Minute }

// SolverBudget returns the exact-search budget as a duration.
func (c Config) SolverBudget() time.Duration {
	return time.Duration(c.SolverBudgetSeconds) * time.Second
}
