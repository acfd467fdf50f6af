package tuning

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Combine blends the mean and maximum of costs. Empty or non-finite input,
// or a maximum that reaches the instability penalty, yields the penalty.
func (m CostModel) Combine(costs []float64) float64 {
	if len(costs) == 0 || !finite(costs) {
		return m.Penalty
	}
	worst := floats.Max(costs)
	if worst >= m.Penalty {
		return m.Penalty
	}
	return m.Blend.Mean*stat.Mean(costs, nil) + m.Blend.Max*worst
}

// CombineDraws reduces a draws × particles cost matrix to one cost per
// particle. Malformed or non-finite input yields the penalty for every
// particle.
func (m CostModel) CombineDraws(costs [][]float64, particles int) []float64 {
	out := make([]float64, particles)
	if len(costs) == 0 || !m.wellFormed(costs, particles) {
		for j := range out {
			out[j] = m.Penalty
		}
		return out
	}

	column := make([]float64, len(costs))
	for j := range out {
		for d, row := range costs {
			column[d] = row[j]
		}
		out[j] = m.Combine(column)
	}
	return out
}

func (m CostModel) wellFormed(costs [][]float64, particles int) bool {
	for _, row := range costs {
		if len(row) != particles || !finite(row) {
			return false
		}
	}
	return true
}
