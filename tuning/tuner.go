// Package tuning tunes sliding-mode controller gains with a particle swarm
// whose fitness is evaluated on batch simulations of the plant.
//
// A Tuner owns its cost constants and random source. Nothing is shared
// between tuners, so several may run side by side.
package tuning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/diptune/config"
	"github.com/pthm-cable/diptune/controller"
	"github.com/pthm-cable/diptune/plant"
	"github.com/pthm-cable/diptune/pso"
)

// Recommended swarm size range; outside it a warning is logged.
const (
	minRecommendedParticles = 10
	maxRecommendedParticles = 100
	maxCoefficientRatio     = 2.0
)

// Tuner optimises the gains of one controller type.
type Tuner struct {
	cfg     *config.Config
	kind    string
	factory controller.Factory
	sim     Simulator
	model   CostModel
	unc     Uncertainty
	nominal plant.Params
	dims    int
	lower   []float64
	upper   []float64

	seed   *int64
	rng    *rand.Rand
	logger *slog.Logger
	hook   func(Iteration)
}

// Option configures a Tuner.
type Option func(*Tuner)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tuner) { t.logger = l }
}

// WithSeed overrides the configured seed.
func WithSeed(seed int64) Option {
	return func(t *Tuner) { t.seed = &seed }
}

// WithControllerType names the controller type when the factory does not
// report one.
func WithControllerType(kind string) Option {
	return func(t *Tuner) { t.kind = kind }
}

// WithIterationHook registers fn to be called after every swarm evaluation.
func WithIterationHook(fn func(Iteration)) Option {
	return func(t *Tuner) { t.hook = fn }
}

// New creates a tuner. Bounds, gain dimension and cost constants are
// resolved here; when cost_function.baseline is configured without explicit
// norms, the baseline gains are simulated once to derive them.
func New(ctx context.Context, cfg *config.Config, factory controller.Factory, sim Simulator, opts ...Option) (*Tuner, error) {
	if cfg == nil || factory == nil || sim == nil {
		return nil, fmt.Errorf("%w: config, factory and simulator are required", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	t := &Tuner{
		cfg:     cfg,
		factory: factory,
		sim:     sim,
		nominal: plant.FromConfig(cfg.Physics),
		unc: Uncertainty{
			Draws:     cfg.Uncertainty.NEvals,
			Fractions: cfg.Uncertainty.Fractions,
		},
	}
	if s := cfg.Derived.Seed; s != nil {
		seed := *s
		t.seed = &seed
	}
	if tn, ok := factory.(controller.TypeNamer); ok {
		t.kind = tn.ControllerType()
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.kind == "" {
		return nil, fmt.Errorf("%w: controller type is unknown", ErrConfig)
	}
	if err := t.unc.validate(); err != nil {
		return nil, err
	}

	dims, err := resolveDims(factory, t.kind)
	if err != nil {
		return nil, err
	}
	t.dims = dims
	if t.lower, t.upper, err = resolveBounds(cfg, t.kind, dims); err != nil {
		return nil, err
	}

	norms, err := t.resolveNorms(ctx)
	if err != nil {
		return nil, err
	}
	if t.model, err = NewCostModel(cfg.Cost, norms); err != nil {
		return nil, err
	}

	if t.seed != nil {
		t.rng = rand.New(rand.NewSource(*t.seed))
	} else {
		t.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	t.logger.Debug("tuner ready",
		"controller", t.kind,
		"dims", t.dims,
		"penalty", t.model.Penalty,
		"draws", t.unc.Draws,
	)
	return t, nil
}

// resolveNorms prefers explicit norms, then a baseline simulation, then 1.
func (t *Tuner) resolveNorms(ctx context.Context) (Norms, error) {
	cc := t.cfg.Cost
	if n := cc.Norms; n != nil {
		return Norms{ISE: n.ISE, U: n.U, DU: n.DU, Sigma: n.Sigma}, nil
	}
	if cc.Baseline == nil || len(cc.Baseline.Gains) == 0 {
		return Norms{ISE: 1, U: 1, DU: 1, Sigma: 1}, nil
	}

	gains := cc.Baseline.Gains
	if len(gains) != t.dims {
		return Norms{}, fmt.Errorf("%w: baseline has %d gains, controller needs %d", ErrDimension, len(gains), t.dims)
	}
	ctrl, err := t.factory.New(gains)
	if err != nil {
		return Norms{}, fmt.Errorf("%w: baseline gains rejected: %v", ErrConfig, err)
	}
	sc := t.cfg.Simulation
	out, err := t.sim.SimulateBatch(ctx, t.factory, [][]float64{gains}, sc.Duration, sc.DT, ctrl.MaxForce(), nil)
	if err != nil {
		return Norms{}, fmt.Errorf("simulating baseline: %w", err)
	}
	draws := out.Draws()
	if len(draws) == 0 {
		return Norms{}, errors.New("simulating baseline: simulator returned no batch")
	}
	norms := BaselineNorms(draws[0])
	t.logger.Info("derived cost norms from baseline",
		"ise", norms.ISE, "u", norms.U, "du", norms.DU, "sigma", norms.Sigma)
	return norms, nil
}

// ControllerType returns the tuned controller type.
func (t *Tuner) ControllerType() string { return t.kind }

// Dims returns the gain-vector length.
func (t *Tuner) Dims() int { return t.dims }

// Bounds returns copies of the lower and upper search bounds.
func (t *Tuner) Bounds() (lower, upper []float64) {
	return append([]float64(nil), t.lower...), append([]float64(nil), t.upper...)
}

// CostModel returns the tuner's cost constants.
func (t *Tuner) CostModel() CostModel { return t.model }

// Overrides replaces configured PSO hyperparameters for one run.
// Nil fields keep the configured value.
type Overrides struct {
	C1            *float64
	C2            *float64
	W             *float64
	WSchedule     []float64 // [start, end]
	VelocityClamp []float64 // [lo, hi] fractions of the bound range
}

// RunOption configures one Optimise call.
type RunOption func(*runSettings)

type runSettings struct {
	runID     string
	iters     int
	particles int
	opts      pso.Options
	schedule  []float64
	clamp     []float64
}

// WithRunID sets the run identifier. The default is a random UUID.
func WithRunID(id string) RunOption {
	return func(rs *runSettings) { rs.runID = id }
}

// WithIterations sets the number of iterations.
func WithIterations(n int) RunOption {
	return func(rs *runSettings) { rs.iters = n }
}

// WithParticles sets the swarm size.
func WithParticles(n int) RunOption {
	return func(rs *runSettings) { rs.particles = n }
}

// WithOverrides applies hyperparameter overrides.
func WithOverrides(o Overrides) RunOption {
	return func(rs *runSettings) {
		if o.C1 != nil {
			rs.opts.C1 = *o.C1
		}
		if o.C2 != nil {
			rs.opts.C2 = *o.C2
		}
		if o.W != nil {
			rs.opts.W = *o.W
		}
		if o.WSchedule != nil {
			rs.schedule = o.WSchedule
		}
		if o.VelocityClamp != nil {
			rs.clamp = o.VelocityClamp
		}
	}
}

// Optimise runs the swarm and returns the best gains found.
//
// With an inertia schedule the swarm is stepped manually, updating the
// inertia weight before every step; otherwise the whole run is a single
// Optimize call with constant hyperparameters. When a seed is configured
// the random source is re-seeded first, so repeated calls give identical
// results.
func (t *Tuner) Optimise(ctx context.Context, opts ...RunOption) (*Result, error) {
	pc := t.cfg.PSO
	rs := runSettings{
		iters:     pc.Iters,
		particles: pc.NParticles,
		opts:      pso.Options{C1: pc.C1, C2: pc.C2, W: pc.W},
		schedule:  pc.WSchedule,
		clamp:     pc.VelocityClamp,
	}
	for _, opt := range opts {
		opt(&rs)
	}

	if rs.particles <= 0 {
		return nil, fmt.Errorf("%w: n_particles must be positive, got %d", ErrInvalidRun, rs.particles)
	}
	if rs.iters <= 0 {
		return nil, fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidRun, rs.iters)
	}
	if n := len(rs.schedule); n != 0 && n != 2 {
		return nil, fmt.Errorf("%w: inertia schedule needs [start, end], got %d values", ErrConfig, n)
	}
	clamp, err := t.velocityClamp(rs.clamp)
	if err != nil {
		return nil, err
	}
	t.advise(rs)

	if t.seed != nil {
		t.rng = rand.New(rand.NewSource(*t.seed))
	}
	start := time.Now()

	initPos := make([][]float64, rs.particles)
	for i := range initPos {
		row := make([]float64, t.dims)
		for d := range row {
			row[d] = t.lower[d] + t.rng.Float64()*(t.upper[d]-t.lower[d])
		}
		initPos[i] = row
	}

	opt, err := pso.New(pso.Config{
		Particles:     rs.particles,
		Dims:          t.dims,
		Options:       rs.opts,
		Bounds:        pso.Bounds{Lower: t.lower, Upper: t.upper},
		VelocityClamp: clamp,
		InitPos:       initPos,
		Rand:          t.rng,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	fe := t.evaluator()
	iter := 0
	best := math.Inf(1)
	var bestPos []float64
	fitness := func(ctx context.Context, positions [][]float64) ([]float64, error) {
		costs, err := fe.Evaluate(ctx, positions)
		if err != nil {
			return nil, err
		}
		if t.hook != nil {
			for i, c := range costs {
				if c < best {
					best = c
					bestPos = append(bestPos[:0], positions[i]...)
				}
			}
			t.hook(Iteration{
				Index:    iter,
				W:        opt.Options.W,
				Costs:    append([]float64(nil), costs...),
				BestCost: best,
				BestPos:  append([]float64(nil), bestPos...),
				Elapsed:  time.Since(start),
			})
		}
		iter++
		return costs, nil
	}

	if rs.runID == "" {
		rs.runID = uuid.NewString()
	}
	res := &Result{
		RunID:          rs.runID,
		ControllerType: t.kind,
		Iterations:     rs.iters,
		Particles:      rs.particles,
		Seed:           t.seed,
	}

	if len(rs.schedule) == 2 {
		weights := inertiaSchedule(rs.schedule[0], rs.schedule[1], rs.iters)
		for i, w := range weights {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("optimise stopped at iteration %d: %w", i, err)
			}
			opt.Options.W = w
			cost, pos, err := opt.Step(ctx, fitness)
			if err != nil {
				return nil, fmt.Errorf("iteration %d: %w", i, err)
			}
			res.History.Cost = append(res.History.Cost, cost)
			res.History.Pos = append(res.History.Pos, pos)
			t.logger.Debug("pso step", "iter", i, "w", w, "best_cost", cost)
		}

		if s := opt.Swarm; s.BestPos != nil && !math.IsInf(s.BestCost, 1) {
			res.BestCost = s.BestCost
			res.BestPos = append([]float64(nil), s.BestPos...)
		} else {
			last := len(res.History.Cost) - 1
			res.BestCost = res.History.Cost[last]
			res.BestPos = res.History.Pos[last]
		}
	} else {
		cost, pos, err := opt.Optimize(ctx, fitness, rs.iters)
		if err != nil {
			return nil, err
		}
		res.BestCost, res.BestPos = cost, pos
		res.History.Cost = append([]float64(nil), opt.CostHistory...)
		res.History.Pos = make([][]float64, len(opt.PosHistory))
		for i, p := range opt.PosHistory {
			res.History.Pos[i] = append([]float64(nil), p...)
		}
	}

	res.Evaluations = fe.Evaluations()
	res.Duration = time.Since(start)
	t.logger.Info("optimisation finished", "result", res)
	return res, nil
}

// EvaluateGains returns the cost of a single gain vector.
func (t *Tuner) EvaluateGains(ctx context.Context, gains []float64) (float64, error) {
	if len(gains) != t.dims {
		return 0, fmt.Errorf("%w: got %d gains, controller needs %d", ErrDimension, len(gains), t.dims)
	}
	costs, err := t.evaluator().Evaluate(ctx, [][]float64{gains})
	if err != nil {
		return 0, err
	}
	return costs[0], nil
}

func (t *Tuner) evaluator() *FitnessEvaluator {
	return &FitnessEvaluator{
		model:   t.model,
		factory: t.factory,
		sim:     t.sim,
		simTime: t.cfg.Simulation.Duration,
		dt:      t.cfg.Simulation.DT,
		nominal: t.nominal,
		unc:     t.unc,
		rng:     t.rng,
		logger:  t.logger,
	}
}

// velocityClamp scales [lo, hi] fractions by each dimension's bound range.
func (t *Tuner) velocityClamp(frac []float64) (*pso.VelocityClamp, error) {
	switch len(frac) {
	case 0:
		return nil, nil
	case 2:
	default:
		return nil, fmt.Errorf("%w: velocity clamp needs [lo, hi], got %d values", ErrConfig, len(frac))
	}
	if frac[0] >= frac[1] {
		return nil, fmt.Errorf("%w: velocity clamp lo %g must be below hi %g", ErrConfig, frac[0], frac[1])
	}

	c := &pso.VelocityClamp{
		Lower: make([]float64, t.dims),
		Upper: make([]float64, t.dims),
	}
	for d := range c.Lower {
		r := t.upper[d] - t.lower[d]
		c.Lower[d] = frac[0] * r
		c.Upper[d] = frac[1] * r
	}
	return c, nil
}

// advise logs warnings for settings that usually tune poorly.
func (t *Tuner) advise(rs runSettings) {
	if rs.particles < minRecommendedParticles || rs.particles > maxRecommendedParticles {
		t.logger.Warn("swarm size outside recommended range",
			"particles", rs.particles,
			"min", minRecommendedParticles,
			"max", maxRecommendedParticles,
		)
	}
	c1, c2 := rs.opts.C1, rs.opts.C2
	if c1 <= 0 || c2 <= 0 || math.Max(c1, c2)/math.Min(c1, c2) > maxCoefficientRatio {
		t.logger.Warn("cognitive and social coefficients are unbalanced", "c1", c1, "c2", c2)
	}
}

// inertiaSchedule returns n inertia weights spaced linearly from start to end.
func inertiaSchedule(start, end float64, n int) []float64 {
	if n == 1 {
		return []float64{start}
	}
	return floats.Span(make([]float64, n), start, end)
}
