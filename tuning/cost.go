package tuning

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/diptune/config"
	"github.com/pthm-cable/diptune/plant"
)

// Trajectory failure limits.
const (
	FallAngle      = math.Pi / 2      // |θ| beyond this counts as fallen
	ExplosionLimit = plant.ExplosionLimit
)

// CostWeights weights the four cost terms.
type CostWeights struct {
	State     float64
	Control   float64
	Rate      float64
	Stability float64
}

// Norms holds the scale of each cost term.
type Norms struct {
	ISE   float64
	U     float64
	DU    float64
	Sigma float64
}

// Sum returns the total of all norms.
func (n Norms) Sum() float64 { return n.ISE + n.U + n.DU + n.Sigma }

func (n Norms) floor(eps float64) Norms {
	return Norms{
		ISE:   math.Max(n.ISE, eps),
		U:     math.Max(n.U, eps),
		DU:    math.Max(n.DU, eps),
		Sigma: math.Max(n.Sigma, eps),
	}
}

// CombineWeights blends the mean and worst case over uncertainty draws.
type CombineWeights struct {
	Mean float64
	Max  float64
}

// CostModel holds every constant the cost pipeline needs. It is built once
// per tuner and never mutated.
type CostModel struct {
	Weights   CostWeights
	Norms     Norms
	Penalty   float64
	Blend     CombineWeights
	Threshold float64
}

// NewCostModel builds a cost model from configuration and the given norms.
// Norms are floored at cost_function.norm_floor. The instability penalty is
// taken from configuration or derived as factor × Σnorms.
func NewCostModel(cc config.CostConfig, norms Norms) (CostModel, error) {
	floor := cc.NormFloor
	if floor <= 0 {
		floor = DefaultThreshold
	}
	threshold := cc.NormalizationThreshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	m := CostModel{
		Weights: CostWeights{
			State:     cc.Weights.StateError,
			Control:   cc.Weights.ControlEffort,
			Rate:      cc.Weights.ControlRate,
			Stability: cc.Weights.Stability,
		},
		Norms:     norms.floor(floor),
		Blend:     CombineWeights{Mean: cc.CombineWeights.Mean, Max: cc.CombineWeights.Max},
		Threshold: threshold,
	}

	if cc.InstabilityPenalty != nil {
		m.Penalty = *cc.InstabilityPenalty
	} else {
		m.Penalty = cc.InstabilityPenaltyFactor * m.Norms.Sum()
	}
	if !(m.Penalty > 0) || math.IsInf(m.Penalty, 0) {
		return CostModel{}, fmt.Errorf("%w: instability penalty must be positive and finite, got %g", ErrConfig, m.Penalty)
	}
	return m, nil
}

// terms holds the unnormalized integrals for one particle.
type terms struct {
	ise, u, du, sigma float64
	failStep          int // First failing sample, or steps+1 without failure
	steps             int
	exploded          bool
}

// ceiling is the largest cost a finite, non-exploding trajectory can get.
func (m CostModel) ceiling() float64 { return math.Nextafter(m.Penalty, 0) }

// TrajectoryCost returns one cost per particle of b. Falling and stable
// trajectories are capped just below Penalty, which only explosions and
// non-finite samples receive.
func (m CostModel) TrajectoryCost(b plant.Batch) []float64 {
	costs := make([]float64, b.Particles())
	n := len(b.Time) - 1
	if n <= 0 {
		return costs
	}

	dt := make([]float64, n)
	floats.SubTo(dt, b.Time[1:], b.Time[:n])

	for i := range costs {
		tr, ok := integrate(b, i, dt)
		if !ok || tr.exploded {
			costs[i] = m.Penalty
			continue
		}

		w := m.Weights
		j := w.State*normalizeScalar(tr.ise, m.Norms.ISE, m.Threshold) +
			w.Control*normalizeScalar(tr.u, m.Norms.U, m.Threshold) +
			w.Rate*normalizeScalar(tr.du, m.Norms.DU, m.Threshold) +
			w.Stability*normalizeScalar(tr.sigma, m.Norms.Sigma, m.Threshold)

		total := b.Time[tr.steps] - b.Time[0]
		if tr.failStep <= tr.steps && total > 0 {
			failTime := b.Time[tr.failStep] - b.Time[0]
			j += w.Stability * (1 - failTime/total) * m.Penalty
		}

		if math.IsNaN(j) || math.IsInf(j, 0) {
			costs[i] = m.Penalty
			continue
		}
		// Only an explosion or a non-finite sample reaches the penalty.
		costs[i] = math.Min(j, m.ceiling())
	}
	return costs
}

// integrate computes the time-weighted squared integrals for particle i
// over the samples before its failure step. ok is false when any sample in
// the common window is not finite.
func integrate(b plant.Batch, i int, dt []float64) (terms, bool) {
	states, controls, sliding := b.States[i], b.Controls[i], b.Sliding[i]

	steps := len(dt)
	steps = min(steps, len(states)-1, len(controls), len(sliding))
	if steps <= 0 {
		return terms{failStep: 1}, true
	}
	states = states[:steps+1]
	controls = controls[:steps]
	sliding = sliding[:steps]

	if !finite2(states) || !finite(controls) || !finite(sliding) {
		return terms{}, false
	}

	tr := terms{steps: steps, failStep: steps + 1}
	for k, x := range states {
		fell := math.Abs(x[plant.IdxTheta1]) > FallAngle || math.Abs(x[plant.IdxTheta2]) > FallAngle
		blew := false
		for _, v := range x {
			if math.Abs(v) > ExplosionLimit {
				blew = true
				break
			}
		}
		if fell || blew {
			tr.failStep = k
			tr.exploded = blew
			break
		}
	}

	limit := min(tr.failStep, steps)
	for k := 0; k < limit; k++ {
		h := dt[k]
		tr.ise += floats.Dot(states[k], states[k]) * h
		tr.u += controls[k] * controls[k] * h
		if k > 0 {
			d := controls[k] - controls[k-1]
			tr.du += d * d * h
		}
		tr.sigma += sliding[k] * sliding[k] * h
	}
	return tr, true
}

// BaselineNorms derives normalization constants from the first particle of
// a baseline simulation. Terms that come out non-finite or non-positive
// fall back to 1.
func BaselineNorms(b plant.Batch) Norms {
	norms := Norms{ISE: 1, U: 1, DU: 1, Sigma: 1}
	n := len(b.Time) - 1
	if n <= 0 || b.Particles() == 0 {
		return norms
	}
	dt := make([]float64, n)
	floats.SubTo(dt, b.Time[1:], b.Time[:n])

	tr, ok := integrate(b, 0, dt)
	if !ok {
		return norms
	}
	pick := func(v float64) float64 {
		if v > 0 && !math.IsInf(v, 0) {
			return v
		}
		return 1
	}
	return Norms{ISE: pick(tr.ise), U: pick(tr.u), DU: pick(tr.du), Sigma: pick(tr.sigma)}
}

// nonFinite reports, per particle, whether any state, control or sliding
// sample is NaN or infinite.
func nonFinite(b plant.Batch) []bool {
	mask := make([]bool, b.Particles())
	for i := range mask {
		mask[i] = !finite2(b.States[i]) || !finite(b.Controls[i]) || !finite(b.Sliding[i])
	}
	return mask
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func finite2(v [][]float64) bool {
	for _, row := range v {
		if !finite(row) {
			return false
		}
	}
	return true
}
