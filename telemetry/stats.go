package telemetry

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/diptune/tuning"
)

// IterationStats is one row of history.csv.
type IterationStats struct {
	Iteration int     `csv:"iteration"`
	W         float64 `csv:"w"`
	BestCost  float64 `csv:"best_cost"`

	// Swarm cost distribution for this iteration
	CostMean float64 `csv:"cost_mean"`
	CostP10  float64 `csv:"cost_p10"`
	CostP50  float64 `csv:"cost_p50"`
	CostP90  float64 `csv:"cost_p90"`

	Penalised int     `csv:"penalised"` // Particles scored at the instability penalty
	ElapsedMS float64 `csv:"elapsed_ms"`
	Gains     string  `csv:"gains"` // Best gains so far, space separated
}

// NewIterationStats summarizes one swarm evaluation.
func NewIterationStats(it tuning.Iteration, penalty float64) IterationStats {
	s := IterationStats{
		Iteration: it.Index,
		W:         it.W,
		BestCost:  it.BestCost,
		ElapsedMS: float64(it.Elapsed.Microseconds()) / 1000,
		Gains:     FormatGains(it.BestPos),
	}
	s.CostMean, s.CostP10, s.CostP50, s.CostP90 = ComputeCostStats(it.Costs)
	for _, c := range it.Costs {
		if c >= penalty {
			s.Penalised++
		}
	}
	return s
}

// ComputeCostStats calculates the mean and the 10th, 50th and 90th
// percentiles of swarm costs, interpolating the empirical distribution.
func ComputeCostStats(costs []float64) (mean, p10, p50, p90 float64) {
	if len(costs) == 0 {
		return 0, 0, 0, 0
	}
	mean = stat.Mean(costs, nil)

	sorted := append([]float64(nil), costs...)
	sort.Float64s(sorted)
	q := func(p float64) float64 { return stat.Quantile(p, stat.LinInterp, sorted, nil) }
	return mean, q(0.10), q(0.50), q(0.90)
}

// FormatGains renders a gain vector for CSV output.
func FormatGains(gains []float64) string {
	parts := make([]string, len(gains))
	for i, g := range gains {
		parts[i] = strconv.FormatFloat(g, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

// LogValue implements slog.LogValuer for structured logging.
func (s IterationStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("iteration", s.Iteration),
		slog.Float64("w", s.W),
		slog.Float64("best_cost", s.BestCost),
		slog.Float64("cost_mean", s.CostMean),
		slog.Float64("cost_p50", s.CostP50),
		slog.Int("penalised", s.Penalised),
		slog.Float64("elapsed_ms", s.ElapsedMS),
	)
}
