package tuning

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/pthm-cable/diptune/controller"
	"github.com/pthm-cable/diptune/plant"
)

// FitnessEvaluator turns a swarm of gain vectors into one finite cost per
// particle. Particles that fail validation, diverge or produce non-finite
// trajectories receive the instability penalty.
type FitnessEvaluator struct {
	model   CostModel
	factory controller.Factory
	sim     Simulator
	simTime float64
	dt      float64
	nominal plant.Params
	unc     Uncertainty
	rng     *rand.Rand // Uncertainty draws only
	logger  *slog.Logger

	evals int
}

// Evaluations returns the number of Evaluate calls made so far.
func (fe *FitnessEvaluator) Evaluations() int { return fe.evals }

// Evaluate returns one cost per row of particles.
func (fe *FitnessEvaluator) Evaluate(ctx context.Context, particles [][]float64) ([]float64, error) {
	fe.evals++
	costs := make([]float64, len(particles))
	if len(particles) == 0 {
		return costs, nil
	}
	fe.fill(costs)

	ref := fe.reference(particles)
	if ref == nil {
		fe.logger.Debug("no particle yields a controller", "particles", len(particles))
		return costs, nil
	}

	valid := make([]bool, len(particles))
	for i := range valid {
		valid[i] = true
	}
	if v, ok := ref.(controller.GainValidator); ok {
		if mask := v.ValidateGains(particles); len(mask) == len(particles) {
			valid = mask
		} else {
			fe.logger.Warn("ignoring gain validator mask of wrong length",
				"mask", len(mask), "particles", len(particles))
		}
	}

	idx := make([]int, 0, len(particles))
	for i, ok := range valid {
		if ok {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		fe.logger.Debug("all particles failed gain validation", "particles", len(particles))
		return costs, nil
	}

	subset := make([][]float64, len(idx))
	for k, i := range idx {
		subset[k] = particles[i]
	}

	var sub []float64
	var err error
	if fe.unc.Enabled() {
		sub, err = fe.evaluateRobust(ctx, subset, ref.MaxForce())
	} else {
		sub, err = fe.evaluateNominal(ctx, subset, ref.MaxForce())
	}
	if err != nil {
		return nil, err
	}

	for k, i := range idx {
		costs[i] = sub[k]
	}

	fe.logger.Debug("evaluated swarm",
		"eval", fe.evals,
		"particles", len(particles),
		"valid", len(idx),
	)
	return costs, nil
}

// reference builds the first controller the factory accepts. It is used
// only to read the force limit and probe for a gain validator.
func (fe *FitnessEvaluator) reference(particles [][]float64) controller.Controller {
	for _, p := range particles {
		c, err := fe.factory.New(p)
		if err == nil && c != nil {
			return c
		}
	}
	return nil
}

func (fe *FitnessEvaluator) evaluateNominal(ctx context.Context, particles [][]float64, uMax float64) ([]float64, error) {
	out, err := fe.sim.SimulateBatch(ctx, fe.factory, particles, fe.simTime, fe.dt, uMax, nil)
	if err != nil {
		return nil, fmt.Errorf("simulating swarm: %w", err)
	}
	draws := out.Draws()
	if len(draws) == 0 {
		return nil, fmt.Errorf("simulating swarm: simulator returned no batch")
	}
	b := draws[0]
	if b.Particles() != len(particles) {
		return nil, fmt.Errorf("simulating swarm: got %d trajectories for %d particles", b.Particles(), len(particles))
	}

	bad := nonFinite(b)
	costs := fe.model.TrajectoryCost(b)
	for i, nf := range bad {
		if nf {
			costs[i] = fe.model.Penalty
		}
	}
	return costs, nil
}

func (fe *FitnessEvaluator) evaluateRobust(ctx context.Context, particles [][]float64, uMax float64) ([]float64, error) {
	seq, err := NewDrawSequence(fe.nominal, fe.unc, fe.rng)
	if err != nil {
		return nil, err
	}
	params := seq.Collect()

	out, err := fe.sim.SimulateBatch(ctx, fe.factory, particles, fe.simTime, fe.dt, uMax, params)
	if err != nil {
		return nil, fmt.Errorf("simulating swarm over %d draws: %w", len(params), err)
	}
	draws := out.Draws()
	if len(draws) != len(params) {
		return nil, fmt.Errorf("simulating swarm: got %d batches for %d draws", len(draws), len(params))
	}

	matrix := make([][]float64, len(draws))
	for d, b := range draws {
		if b.Particles() != len(particles) {
			return nil, fmt.Errorf("simulating swarm: draw %d has %d trajectories for %d particles", d, b.Particles(), len(particles))
		}
		matrix[d] = fe.model.TrajectoryCost(b)
	}

	costs := fe.model.CombineDraws(matrix, len(particles))
	// A single catastrophic draw condemns the particle.
	for j := range costs {
		for _, row := range matrix {
			if row[j] >= fe.model.Penalty {
				costs[j] = fe.model.Penalty
				break
			}
		}
	}
	return costs, nil
}

func (fe *FitnessEvaluator) fill(costs []float64) {
	for i := range costs {
		costs[i] = fe.model.Penalty
	}
}
