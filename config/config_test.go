package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1.5, cfg.Physics.CartMass)
	assert.Equal(t, 500, cfg.Derived.Steps)
	require.NotNil(t, cfg.Derived.Seed)
	assert.Equal(t, int64(42), *cfg.Derived.Seed)
	assert.Nil(t, cfg.Cost.Norms)
	assert.Equal(t, 0.05, cfg.Uncertainty.Fractions["cart_mass"])
	assert.NotContains(t, cfg.Uncertainty.Fractions, "n_evals")

	cc, ok := cfg.Controller("adaptive_smc")
	require.True(t, ok)
	assert.Len(t, cc.Gains, 5)
	assert.Equal(t, 100.0, cc.KMax)
}

func TestBoundsFor(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	lo, hi := cfg.BoundsFor("sta_smc")
	assert.Equal(t, []float64{2, 1, 1, 1, 0.1, 0.1}, lo)
	assert.Equal(t, []float64{100, 100, 20, 20, 20, 20}, hi)

	lo, hi = cfg.BoundsFor("unknown")
	assert.Equal(t, cfg.PSO.Bounds.Min, lo)
	assert.Equal(t, cfg.PSO.Bounds.Max, hi)
}

func TestLoadMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tune.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pso:
  n_particles: 30
  seed: 7
  w_schedule: [0.9, 0.4]
simulation:
  duration: 2.0
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.PSO.NParticles)
	assert.Equal(t, 200, cfg.PSO.Iters)
	assert.Equal(t, []float64{0.9, 0.4}, cfg.PSO.WSchedule)
	assert.Equal(t, 200, cfg.Derived.Steps)
	assert.Equal(t, 0.01, cfg.Simulation.DT)
	require.NotNil(t, cfg.Derived.Seed)
	assert.Equal(t, int64(7), *cfg.Derived.Seed)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"n_processes", "pso:\n  n_processes: 4\n", ErrDeprecatedKey},
		{"hyper_trials", "pso:\n  hyper_trials: 10\n", ErrDeprecatedKey},
		{"hyper_search", "pso:\n  hyper_search:\n    c1: [1, 2]\n", ErrDeprecatedKey},
		{"study_timeout", "pso:\n  study_timeout: 60\n", ErrDeprecatedKey},
		{"zero dt", "simulation:\n  dt: 0\n", ErrInvalid},
		{"short initial state", "simulation:\n  initial_state: [0, 0.1]\n", ErrInvalid},
		{"negative weight", "cost_function:\n  weights:\n    state_error: -1\n", ErrInvalid},
		{"combine weights", "cost_function:\n  combine_weights:\n    mean: 0.5\n    max: 0.6\n", ErrInvalid},
		{"zero penalty", "cost_function:\n  instability_penalty: 0\n", ErrInvalid},
		{"fraction", "physics_uncertainty:\n  cart_mass: 1.5\n", ErrInvalid},
		{"zero particles", "pso:\n  n_particles: 0\n", ErrInvalid},
		{"negative iters", "pso:\n  iters: -5\n", ErrInvalid},
		{"schedule", "pso:\n  w_schedule: [0.9]\n", ErrInvalid},
		{"clamp order", "pso:\n  velocity_clamp: [0.5, -0.5]\n", ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSingleProcessAccepted(t *testing.T) {
	_, err := Parse([]byte("pso:\n  n_processes: 1\n"))
	assert.NoError(t, err)
}

func TestWithGains(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	tuned := cfg.WithGains("classical_smc", []float64{1, 2, 3, 4, 5, 6})
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, tuned.Controllers["classical_smc"].Gains)
	assert.Equal(t, []float64{5, 5, 5, 0.5, 0.5, 0.5}, cfg.Controllers["classical_smc"].Gains)
	assert.Equal(t, cfg.Controllers["classical_smc"].MaxForce, tuned.Controllers["classical_smc"].MaxForce)
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	tuned := cfg.WithGains("sta_smc", []float64{9, 3, 10, 5, 4, 3})

	path := filepath.Join(t.TempDir(), "best.yaml")
	require.NoError(t, tuned.WriteYAML(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 3, 10, 5, 4, 3}, back.Controllers["sta_smc"].Gains)
	assert.Equal(t, cfg.Physics, back.Physics)
	assert.Equal(t, cfg.Uncertainty, back.Uncertainty)
	assert.Equal(t, cfg.PSO.Bounds, back.PSO.Bounds)
}
