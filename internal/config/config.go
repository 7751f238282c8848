// Package config reads server settings from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
	"github.com/DoyleJ11/anomaly-detection/internal/ratelimit"
)

var (
	ErrInvalidCooldown   = errors.New("cooldown must not be negative")
	ErrInvalidWindow     = errors.New("rapid window must be positive")
	ErrInvalidMaxActions = errors.New("max rapid actions must be positive")
)

type rawEnv struct {
	Addr               string  `env:"ADDR"                 envDefault:":8080"`
	DatabaseURL        string  `env:"DATABASE_URL"`
	LogDev             bool    `env:"LOG_DEV"`
	RandomSeed         int64   `env:"RANDOM_SEED"`
	CooldownSeconds    float64 `env:"COOLDOWN_SECONDS"     envDefault:"1.0"`
	RapidWindowSeconds float64 `env:"RAPID_WINDOW_SECONDS" envDefault:"3.0"`
	MaxRapidActions    int     `env:"MAX_RAPID_ACTIONS"    envDefault:"7"`
	AnomalyStages      string  `env:"ANOMALY_STAGES"`
}

type Config struct {
	Addr        string
	DatabaseURL string
	LogDev      bool
	// RandomSeed seeds every variant picker; zero seeds from the clock.
	RandomSeed      int64
	Cooldown        time.Duration
	RapidWindow     time.Duration
	MaxRapidActions int
	Stages          []engine.StageConfig
}

// DefaultStages is the single stage used when ANOMALY_STAGES is unset.
func DefaultStages() []engine.StageConfig {
	return []engine.StageConfig{{
		Name:                      "corridor",
		Target:                    10,
		AnomalyProbabilityPercent: 65,
		VariantCount:              8,
		ProgressMarkers:           10,
	}}
}

func Load() (Config, error) {
	var raw rawEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		Addr:            raw.Addr,
		DatabaseURL:     raw.DatabaseURL,
		LogDev:          raw.LogDev,
		RandomSeed:      raw.RandomSeed,
		Cooldown:        seconds(raw.CooldownSeconds),
		RapidWindow:     seconds(raw.RapidWindowSeconds),
		MaxRapidActions: raw.MaxRapidActions,
		Stages:          DefaultStages(),
	}
	if raw.AnomalyStages != "" {
		var stages []engine.StageConfig
		if err := json.Unmarshal([]byte(raw.AnomalyStages), &stages); err != nil {
			return Config{}, fmt.Errorf("parse ANOMALY_STAGES: %w", err)
		}
		cfg.Stages = stages
	}
	return cfg, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Validate reports every configuration error at once. Progress-marker
// mismatches are not errors; see MarkerWarnings.
func (c Config) Validate() error {
	var err error
	if c.Cooldown < 0 {
		err = multierr.Append(err, ErrInvalidCooldown)
	}
	if c.RapidWindow <= 0 {
		err = multierr.Append(err, ErrInvalidWindow)
	}
	if c.MaxRapidActions <= 0 {
		err = multierr.Append(err, ErrInvalidMaxActions)
	}
	return multierr.Append(err, engine.ValidateStages(c.Stages))
}

// MarkerWarnings returns one error per stage whose marker count does not
// match its target. Those stages show no progress markers.
func (c Config) MarkerWarnings() []error {
	return multierr.Errors(engine.MarkerMismatches(c.Stages))
}

func (c Config) Policy() ratelimit.Policy {
	return ratelimit.Policy{
		Cooldown:        c.Cooldown,
		RapidWindow:     c.RapidWindow,
		MaxRapidActions: c.MaxRapidActions,
	}
}
