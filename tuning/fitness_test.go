package tuning

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/diptune/controller"
	"github.com/pthm-cable/diptune/plant"
)

func newEvaluator(t *testing.T, sim Simulator, factory controller.Factory, unc Uncertainty) *FitnessEvaluator {
	t.Helper()
	return &FitnessEvaluator{
		model:   testModel(),
		factory: factory,
		sim:     sim,
		simTime: 0.5,
		dt:      0.05,
		nominal: nominal(t),
		unc:     unc,
		rng:     rand.New(rand.NewSource(1)),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func staFactory(t *testing.T) controller.Factory {
	t.Helper()
	f, err := controller.NewFactory(controller.SuperTwistingSMC, loadConfig(t, testConfig))
	require.NoError(t, err)
	return f
}

func TestEvaluateExcludesInvalidGains(t *testing.T) {
	sim := &fakeSim{}
	fe := newEvaluator(t, sim, staFactory(t), Uncertainty{})

	particles := [][]float64{
		{8, 4, 12, 6, 4.85, 3.43},
		{4, 8, 12, 6, 4.85, 3.43}, // K1 < K2
		{9, 3, 12, 6, 4.85, 3.43},
	}
	costs, err := fe.Evaluate(context.Background(), particles)
	require.NoError(t, err)
	require.Len(t, costs, 3)

	assert.Equal(t, []int{2}, sim.sizes)
	assert.Equal(t, fe.model.Penalty, costs[1])
	assert.Less(t, costs[0], fe.model.Penalty)
	assert.Less(t, costs[2], fe.model.Penalty)
	assert.Equal(t, 1, fe.Evaluations())
}

func TestEvaluateAllInvalidSkipsSimulation(t *testing.T) {
	sim := &fakeSim{}
	fe := newEvaluator(t, sim, staFactory(t), Uncertainty{})

	costs, err := fe.Evaluate(context.Background(), [][]float64{
		{1, 2, 3, 4, 5, 6},
		{-1, -2, 3, 4, 5, 6},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1000, 1000}, costs)
	assert.Zero(t, sim.calls)
}

// longMask wraps a classical controller with a validator that returns one
// entry more than the swarm has rows.
type longMask struct{ *controller.Classical }

func (longMask) ValidateGains(swarm [][]float64) []bool {
	return make([]bool, len(swarm)+1)
}

func TestEvaluateIgnoresMisSizedMask(t *testing.T) {
	sim := &fakeSim{}
	factory := controller.FactoryFunc(func(g []float64) (controller.Controller, error) {
		c, err := controller.NewClassical(g, controller.Settings{})
		if err != nil {
			return nil, err
		}
		return longMask{c}, nil
	})
	fe := newEvaluator(t, sim, factory, Uncertainty{})

	particles := [][]float64{{10, 10, 10, 10, 10, 10}, {12, 10, 10, 10, 10, 10}}
	var costs []float64
	require.NotPanics(t, func() {
		var err error
		costs, err = fe.Evaluate(context.Background(), particles)
		require.NoError(t, err)
	})
	assert.Equal(t, []int{2}, sim.sizes)
	for _, c := range costs {
		assert.Less(t, c, fe.model.Penalty)
	}
}

func TestEvaluateNoController(t *testing.T) {
	sim := &fakeSim{}
	broken := controller.FactoryFunc(func([]float64) (controller.Controller, error) {
		return nil, errors.New("bad gains")
	})
	fe := newEvaluator(t, sim, broken, Uncertainty{})

	costs, err := fe.Evaluate(context.Background(), [][]float64{{1}, {2}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1000, 1000}, costs)
	assert.Zero(t, sim.calls)
}

func TestEvaluateNonFiniteTrajectory(t *testing.T) {
	states := make([][]float64, 11)
	for k := range states {
		states[k] = []float64{0, 0.01, 0, 0, 0, 0}
	}
	u := make([]float64, 10)
	u[4] = math.NaN()
	sim := &fakeSim{traj: constTraj(states, u, make([]float64, 10))}
	fe := newEvaluator(t, sim, staFactory(t), Uncertainty{})

	costs, err := fe.Evaluate(context.Background(), [][]float64{{8, 4, 12, 6, 4.85, 3.43}})
	require.NoError(t, err)
	assert.Equal(t, fe.model.Penalty, costs[0])
}

func TestEvaluateRobust(t *testing.T) {
	unc := Uncertainty{Draws: 3, Fractions: map[string]float64{"cart_mass": 0.1}}
	particles := [][]float64{{8, 4, 12, 6, 4.85, 3.43}, {20, 4, 12, 6, 4.85, 3.43}}

	t.Run("combines draws", func(t *testing.T) {
		sim := &fakeSim{}
		fe := newEvaluator(t, sim, staFactory(t), unc)

		costs, err := fe.Evaluate(context.Background(), particles)
		require.NoError(t, err)

		require.Len(t, sim.params, 1)
		require.Len(t, sim.params[0], 3)
		assert.Equal(t, fe.nominal, sim.params[0][0])
		for _, c := range costs {
			assert.Less(t, c, fe.model.Penalty)
			assert.Positive(t, c)
		}
	})

	t.Run("one bad draw condemns", func(t *testing.T) {
		nom := nominal(t)
		sim := &fakeSim{traj: func(g []float64, p plant.Params, steps int) ([][]float64, []float64, []float64) {
			states, u, sigma := settling(g, p, steps)
			if g[0] == 20 && p.CartMass != nom.CartMass {
				states[steps] = []float64{1e7, 0, 0, 0, 0, 0}
			}
			return states, u, sigma
		}}
		fe := newEvaluator(t, sim, staFactory(t), unc)

		costs, err := fe.Evaluate(context.Background(), particles)
		require.NoError(t, err)
		assert.Less(t, costs[0], fe.model.Penalty)
		assert.Equal(t, fe.model.Penalty, costs[1])
	})
}

func TestEvaluateSimulatorError(t *testing.T) {
	boom := errors.New("solver crashed")
	fe := newEvaluator(t, &fakeSim{err: boom}, staFactory(t), Uncertainty{})

	_, err := fe.Evaluate(context.Background(), [][]float64{{8, 4, 12, 6, 4.85, 3.43}})
	assert.ErrorIs(t, err, boom)
}

// fixedSim records the arguments of its fixed-step entry point.
type fixedSim struct {
	fakeSim
	simTime float64
}

func (f *fixedSim) SimulateBatchFixed(
	ctx context.Context,
	factory controller.Factory,
	particles [][]float64,
	simTime, uMax float64,
	params []plant.Params,
) (plant.Outcome, error) {
	f.simTime = simTime
	return f.fakeSim.SimulateBatch(ctx, factory, particles, simTime, 0.1, uMax, params)
}

func TestAdaptFixedStep(t *testing.T) {
	inner := &fixedSim{}
	sim := AdaptFixedStep(inner)

	out, err := sim.SimulateBatch(context.Background(), nil, [][]float64{{1}}, 1.0, 0.001, 10, nil)
	require.NoError(t, err)

	b := out.Draws()[0]
	// The inner simulator's own step size wins.
	assert.Len(t, b.Time, 11)
	assert.Equal(t, 1.0, inner.simTime)
	assert.Equal(t, 1, inner.calls)
}
