package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"ADDR", "DATABASE_URL", "LOG_DEV", "RANDOM_SEED", "COOLDOWN_SECONDS",
		"RAPID_WINDOW_SECONDS", "MAX_RAPID_ACTIONS", "ANOMALY_STAGES"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, time.Second, cfg.Cooldown)
	assert.Equal(t, 3*time.Second, cfg.RapidWindow)
	assert.Equal(t, 7, cfg.MaxRapidActions)
	assert.Equal(t, DefaultStages(), cfg.Stages)
	require.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.MarkerWarnings())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ADDR", ":9090")
	t.Setenv("RANDOM_SEED", "42")
	t.Setenv("COOLDOWN_SECONDS", "0.5")
	t.Setenv("RAPID_WINDOW_SECONDS", "2")
	t.Setenv("MAX_RAPID_ACTIONS", "4")
	t.Setenv("ANOMALY_STAGES", `[{"name":"hall","target":3,"anomaly_probability_percent":50,"variant_count":2,"progress_markers":3,"start_point":"hall_start"}]`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, int64(42), cfg.RandomSeed)

	p := cfg.Policy()
	assert.Equal(t, 500*time.Millisecond, p.Cooldown)
	assert.Equal(t, 2*time.Second, p.RapidWindow)
	assert.Equal(t, 4, p.MaxRapidActions)

	require.Len(t, cfg.Stages, 1)
	assert.Equal(t, engine.StageConfig{
		Name: "hall", Target: 3, AnomalyProbabilityPercent: 50, VariantCount: 2,
		ProgressMarkers: 3, StartPoint: "hall_start",
	}, cfg.Stages[0])
}

func TestLoad_BadStagesJSON(t *testing.T) {
	t.Setenv("ANOMALY_STAGES", "[{")
	_, err := Load()
	require.Error(t, err)
}

func TestValidate_ReportsEveryError(t *testing.T) {
	cfg := Config{
		Cooldown:        -time.Second,
		RapidWindow:     0,
		MaxRapidActions: 0,
		Stages: []engine.StageConfig{
			{Name: "bad", Target: 0, AnomalyProbabilityPercent: 150, VariantCount: 2, ProgressMarkers: 0},
		},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCooldown)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	assert.ErrorIs(t, err, ErrInvalidMaxActions)
	assert.ErrorIs(t, err, engine.ErrInvalidTarget)
	assert.ErrorIs(t, err, engine.ErrInvalidProbability)
	assert.Len(t, multierr.Errors(err), 5)
}

func TestMarkerWarnings(t *testing.T) {
	cfg := Config{
		Cooldown: time.Second, RapidWindow: time.Second, MaxRapidActions: 3,
		Stages: []engine.StageConfig{
			{Name: "ok", Target: 2, ProgressMarkers: 2},
			{Name: "short", Target: 4, ProgressMarkers: 3},
		},
	}
	require.NoError(t, cfg.Validate(), "a marker mismatch does not fail validation")

	warnings := cfg.MarkerWarnings()
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0], engine.ErrMarkerMismatch)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ADDR=:7070\nMAX_RAPID_ACTIONS=9\n"), 0o600))
	t.Setenv("ADDR", ":1234")
	os.Unsetenv("MAX_RAPID_ACTIONS")
	t.Cleanup(func() { os.Unsetenv("MAX_RAPID_ACTIONS") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, ":1234", os.Getenv("ADDR"), "existing variables win")
	assert.Equal(t, "9", os.Getenv("MAX_RAPID_ACTIONS"))
}
