package tuning

import (
	"context"

	"github.com/pthm-cable/diptune/controller"
	"github.com/pthm-cable/diptune/plant"
)

// Simulator runs a batch of gain vectors against the plant. With no params
// the simulator's nominal plant is used; with several it returns one batch
// per parameter set. Errors are reserved for failures unrelated to a
// particular particle.
type Simulator interface {
	SimulateBatch(
		ctx context.Context,
		factory controller.Factory,
		particles [][]float64,
		simTime, dt, uMax float64,
		params []plant.Params,
	) (plant.Outcome, error)
}

// FixedStepSimulator is a simulator that chooses its own step size.
type FixedStepSimulator interface {
	SimulateBatchFixed(
		ctx context.Context,
		factory controller.Factory,
		particles [][]float64,
		simTime, uMax float64,
		params []plant.Params,
	) (plant.Outcome, error)
}

// AdaptFixedStep wraps a FixedStepSimulator so it can be used where a
// Simulator is expected. The requested dt is ignored.
func AdaptFixedStep(s FixedStepSimulator) Simulator {
	return fixedStep{s}
}

type fixedStep struct {
	FixedStepSimulator
}

func (f fixedStep) SimulateBatch(
	ctx context.Context,
	factory controller.Factory,
	particles [][]float64,
	simTime, _, uMax float64,
	params []plant.Params,
) (plant.Outcome, error) {
	return f.SimulateBatchFixed(ctx, factory, particles, simTime, uMax, params)
}
