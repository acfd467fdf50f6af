package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/pthm-cable/diptune/tuning"
)

func TestComputeCostStats(t *testing.T) {
	tests := []struct {
		name          string
		costs         []float64
		mean          float64
		p10, p50, p90 float64
	}{
		{"single", []float64{5}, 5, 5, 5, 5},
		{"unsorted", []float64{1.0, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1}, 0.55, 0.1, 0.5, 0.9},
		{"interpolates", []float64{4, 2}, 3, 2, 2, 3.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, p10, p50, p90 := ComputeCostStats(tt.costs)
			got := []float64{mean, p10, p50, p90}
			want := []float64{tt.mean, tt.p10, tt.p50, tt.p90}
			for i := range got {
				if math.Abs(got[i]-want[i]) > 1e-9 {
					t.Errorf("stat %d = %v, want %v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestComputeCostStatsEmpty(t *testing.T) {
	mean, p10, p50, p90 := ComputeCostStats(nil)

	if mean != 0 || p10 != 0 || p50 != 0 || p90 != 0 {
		t.Error("empty slice should return all zeros")
	}
}

func TestNewIterationStats(t *testing.T) {
	it := tuning.Iteration{
		Index:    3,
		W:        0.6,
		Costs:    []float64{2, 1000, 4, 1000},
		BestCost: 1.5,
		BestPos:  []float64{10, 2.5, 0.1},
		Elapsed:  1500 * time.Microsecond,
	}
	s := NewIterationStats(it, 1000)

	if s.Iteration != 3 || s.W != 0.6 || s.BestCost != 1.5 {
		t.Errorf("unexpected header fields: %+v", s)
	}
	if s.Penalised != 2 {
		t.Errorf("penalised = %d, want 2", s.Penalised)
	}
	if math.Abs(s.CostMean-501.5) > 1e-9 {
		t.Errorf("cost_mean = %v, want 501.5", s.CostMean)
	}
	if s.ElapsedMS != 1.5 {
		t.Errorf("elapsed_ms = %v, want 1.5", s.ElapsedMS)
	}
	if s.Gains != "10 2.5 0.1" {
		t.Errorf("gains = %q", s.Gains)
	}
}
