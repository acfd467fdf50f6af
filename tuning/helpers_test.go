package tuning

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/diptune/config"
	"github.com/pthm-cable/diptune/controller"
	"github.com/pthm-cable/diptune/plant"
)

// trajFunc builds the samples for one particle against one parameter set.
type trajFunc func(gains []float64, p plant.Params, steps int) (states [][]float64, u, sigma []float64)

// fakeSim is a deterministic simulator that records its calls.
type fakeSim struct {
	traj   trajFunc
	err    error
	calls  int
	sizes  []int
	params [][]plant.Params
}

func (f *fakeSim) SimulateBatch(
	_ context.Context,
	_ controller.Factory,
	particles [][]float64,
	simTime, dt, _ float64,
	params []plant.Params,
) (plant.Outcome, error) {
	f.calls++
	f.sizes = append(f.sizes, len(particles))
	f.params = append(f.params, params)
	if f.err != nil {
		return plant.Outcome{}, f.err
	}
	if len(particles) == 0 {
		return plant.Outcome{}, errors.New("no particles")
	}

	draws := params
	if len(draws) == 0 {
		draws = []plant.Params{{}}
	}
	steps := int(math.Round(simTime / dt))
	grid := make([]float64, steps+1)
	for k := range grid {
		grid[k] = float64(k) * dt
	}

	traj := f.traj
	if traj == nil {
		traj = settling
	}
	batches := make([]plant.Batch, len(draws))
	for d, p := range draws {
		b := plant.Batch{
			Time:     grid,
			States:   make([][][]float64, len(particles)),
			Controls: make([][]float64, len(particles)),
			Sliding:  make([][]float64, len(particles)),
		}
		for i, g := range particles {
			b.States[i], b.Controls[i], b.Sliding[i] = traj(g, p, steps)
		}
		batches[d] = b
	}
	if len(batches) == 1 {
		return plant.Outcome{Single: &batches[0]}, nil
	}
	return plant.Outcome{Multi: batches}, nil
}

// settling decays from an offset that grows with the distance of the gains
// from 10 in every dimension. Angles stay small, so nothing falls.
func settling(gains []float64, p plant.Params, steps int) ([][]float64, []float64, []float64) {
	var dist float64
	for _, g := range gains {
		dist += (g - 10) * (g - 10)
	}
	amp := 0.001 * math.Sqrt(dist) * (1 + p.CartMass)

	states := make([][]float64, steps+1)
	u := make([]float64, steps)
	sigma := make([]float64, steps)
	for k := range states {
		e := amp * math.Exp(-0.05*float64(k))
		states[k] = []float64{e, 0.1 * e, 0.1 * e, 0, 0, 0}
		if k < steps {
			u[k] = 2 * e
			sigma[k] = e
		}
	}
	return states, u, sigma
}

// constTraj returns a fixed trajectory regardless of gains.
func constTraj(states [][]float64, u, sigma []float64) trajFunc {
	return func([]float64, plant.Params, int) ([][]float64, []float64, []float64) {
		return states, u, sigma
	}
}

// loadConfig parses overrides on top of the embedded defaults.
func loadConfig(t *testing.T, overrides string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(overrides))
	require.NoError(t, err)
	return cfg
}

// testConfig is a short horizon with explicit norms and penalty so no
// baseline simulation runs.
const testConfig = `
simulation:
  duration: 0.5
  dt: 0.05
cost_function:
  instability_penalty: 1000.0
  norms:
    ise: 1.0
    u: 1.0
    du: 1.0
    sigma: 1.0
`

func classicalFactory(t *testing.T, cfg *config.Config) controller.Factory {
	t.Helper()
	f, err := controller.NewFactory(controller.ClassicalSMC, cfg)
	require.NoError(t, err)
	return f
}

func ptr[T any](v T) *T { return &v }
