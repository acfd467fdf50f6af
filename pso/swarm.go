// Package pso provides a global-best particle swarm optimizer that can be
// driven one iteration at a time or run to completion.
package pso

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Options holds the swarm hyperparameters. W may be changed between steps.
type Options struct {
	C1 float64 // Cognitive coefficient
	C2 float64 // Social coefficient
	W  float64 // Inertia weight
}

// Bounds holds per-dimension position limits.
type Bounds struct {
	Lower []float64
	Upper []float64
}

// VelocityClamp holds per-dimension velocity limits.
type VelocityClamp struct {
	Lower []float64
	Upper []float64
}

// CostFunc evaluates every particle position and returns one cost each.
// Lower is better.
type CostFunc func(ctx context.Context, positions [][]float64) ([]float64, error)

// Swarm is the mutable state of the particles.
type Swarm struct {
	Position  [][]float64
	Velocity  [][]float64
	PBestPos  [][]float64
	PBestCost []float64
	BestPos   []float64
	BestCost  float64
}

// Config configures a new optimizer.
type Config struct {
	Particles     int
	Dims          int
	Options       Options
	Bounds        Bounds
	VelocityClamp *VelocityClamp
	InitPos       [][]float64 // Optional; uniform within Bounds when nil
	Rand          *rand.Rand  // Required; the only source of randomness
}

// GlobalBest is a global-best PSO. Every particle is attracted to its own
// best position and to the best position found by the whole swarm.
type GlobalBest struct {
	Options     Options
	Swarm       Swarm
	CostHistory []float64   // Swarm best cost after each step
	PosHistory  [][]float64 // Swarm best position after each step

	bounds Bounds
	clamp  *VelocityClamp
	rng    *rand.Rand
}

// ErrCostLength is returned when a cost function returns the wrong number
// of costs.
var ErrCostLength = errors.New("cost function returned wrong number of costs")

// New creates an optimizer and initializes its swarm.
func New(cfg Config) (*GlobalBest, error) {
	if cfg.Particles <= 0 || cfg.Dims <= 0 {
		return nil, fmt.Errorf("pso: particles and dims must be positive (got %d, %d)", cfg.Particles, cfg.Dims)
	}
	if cfg.Rand == nil {
		return nil, errors.New("pso: a random source is required")
	}
	if len(cfg.Bounds.Lower) != cfg.Dims || len(cfg.Bounds.Upper) != cfg.Dims {
		return nil, fmt.Errorf("pso: bounds must have %d dimensions", cfg.Dims)
	}
	if c := cfg.VelocityClamp; c != nil && (len(c.Lower) != cfg.Dims || len(c.Upper) != cfg.Dims) {
		return nil, fmt.Errorf("pso: velocity clamp must have %d dimensions", cfg.Dims)
	}
	if cfg.InitPos != nil && len(cfg.InitPos) != cfg.Particles {
		return nil, fmt.Errorf("pso: init positions have %d rows, want %d", len(cfg.InitPos), cfg.Particles)
	}

	g := &GlobalBest{
		Options: cfg.Options,
		bounds:  cfg.Bounds,
		clamp:   cfg.VelocityClamp,
		rng:     cfg.Rand,
	}
	g.Swarm = Swarm{
		Position:  make([][]float64, cfg.Particles),
		Velocity:  make([][]float64, cfg.Particles),
		PBestPos:  make([][]float64, cfg.Particles),
		PBestCost: make([]float64, cfg.Particles),
		BestCost:  math.Inf(1),
	}

	for i := 0; i < cfg.Particles; i++ {
		pos := make([]float64, cfg.Dims)
		if cfg.InitPos != nil {
			if len(cfg.InitPos[i]) != cfg.Dims {
				return nil, fmt.Errorf("pso: init position %d has %d dims, want %d", i, len(cfg.InitPos[i]), cfg.Dims)
			}
			copy(pos, cfg.InitPos[i])
		} else {
			for d := range pos {
				lo, hi := cfg.Bounds.Lower[d], cfg.Bounds.Upper[d]
				pos[d] = lo + g.rng.Float64()*(hi-lo)
			}
		}

		vel := make([]float64, cfg.Dims)
		if g.clamp != nil {
			for d := range vel {
				lo, hi := g.clamp.Lower[d], g.clamp.Upper[d]
				vel[d] = lo + g.rng.Float64()*(hi-lo)
			}
		}

		g.Swarm.Position[i] = pos
		g.Swarm.Velocity[i] = vel
		g.Swarm.PBestPos[i] = append([]float64(nil), pos...)
		g.Swarm.PBestCost[i] = math.Inf(1)
	}

	return g, nil
}

// Step evaluates the current positions, updates personal and swarm bests,
// records history and moves every particle once. It returns the swarm best
// cost and position after the evaluation.
func (g *GlobalBest) Step(ctx context.Context, fn CostFunc) (float64, []float64, error) {
	s := &g.Swarm
	costs, err := fn(ctx, s.Position)
	if err != nil {
		return 0, nil, err
	}
	if len(costs) != len(s.Position) {
		return 0, nil, fmt.Errorf("%w: got %d, want %d", ErrCostLength, len(costs), len(s.Position))
	}

	for i, c := range costs {
		if c < s.PBestCost[i] {
			s.PBestCost[i] = c
			copy(s.PBestPos[i], s.Position[i])
		}
		if s.PBestCost[i] < s.BestCost {
			s.BestCost = s.PBestCost[i]
			s.BestPos = append(s.BestPos[:0], s.PBestPos[i]...)
		}
	}
	if s.BestPos == nil {
		// Every cost was NaN or +Inf; fall back to the first particle.
		s.BestPos = append([]float64(nil), s.Position[0]...)
	}

	g.CostHistory = append(g.CostHistory, s.BestCost)
	g.PosHistory = append(g.PosHistory, append([]float64(nil), s.BestPos...))

	g.move()

	return s.BestCost, append([]float64(nil), s.BestPos...), nil
}

// Optimize runs iters steps with the current options.
func (g *GlobalBest) Optimize(ctx context.Context, fn CostFunc, iters int) (float64, []float64, error) {
	if iters <= 0 {
		return 0, nil, fmt.Errorf("pso: iterations must be positive (got %d)", iters)
	}
	for it := 0; it < iters; it++ {
		if err := ctx.Err(); err != nil {
			return 0, nil, fmt.Errorf("pso: stopped at iteration %d: %w", it, err)
		}
		if _, _, err := g.Step(ctx, fn); err != nil {
			return 0, nil, err
		}
	}
	return g.Swarm.BestCost, append([]float64(nil), g.Swarm.BestPos...), nil
}

// move applies the velocity update and keeps positions inside the bounds.
func (g *GlobalBest) move() {
	s := &g.Swarm
	o := g.Options
	for i, pos := range s.Position {
		vel := s.Velocity[i]
		pbest := s.PBestPos[i]
		for d := range pos {
			r1 := g.rng.Float64()
			r2 := g.rng.Float64()
			v := o.W*vel[d] + o.C1*r1*(pbest[d]-pos[d]) + o.C2*r2*(s.BestPos[d]-pos[d])
			if g.clamp != nil {
				v = math.Max(g.clamp.Lower[d], math.Min(g.clamp.Upper[d], v))
			}
			vel[d] = v

			p := pos[d] + v
			if p < g.bounds.Lower[d] {
				p = g.bounds.Lower[d]
			} else if p > g.bounds.Upper[d] {
				p = g.bounds.Upper[d]
			}
			pos[d] = p
		}
	}
}
