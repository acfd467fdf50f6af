package tuning

import (
	"log/slog"
	"time"
)

// History records the global best after every iteration.
type History struct {
	Cost []float64   `json:"cost"`
	Pos  [][]float64 `json:"pos"`
}

// Result is the outcome of one Optimise call.
type Result struct {
	RunID          string        `json:"run_id"`
	ControllerType string        `json:"controller_type"`
	BestCost       float64       `json:"best_cost"`
	BestPos        []float64     `json:"best_pos"`
	History        History       `json:"history"`
	Iterations     int           `json:"iterations"`
	Particles      int           `json:"particles"`
	Evaluations    int           `json:"evaluations"`
	Seed           *int64        `json:"seed,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
}

// LogValue implements slog.LogValuer.
func (r *Result) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("run_id", r.RunID),
		slog.String("controller", r.ControllerType),
		slog.Float64("best_cost", r.BestCost),
		slog.Any("best_pos", r.BestPos),
		slog.Int("iterations", r.Iterations),
		slog.Int("particles", r.Particles),
		slog.Duration("duration", r.Duration),
	}
	if r.Seed != nil {
		attrs = append(attrs, slog.Int64("seed", *r.Seed))
	}
	return slog.GroupValue(attrs...)
}

// Iteration describes one completed swarm evaluation. BestCost and BestPos
// are the best seen so far in the run, including this evaluation.
type Iteration struct {
	Index    int
	W        float64
	Costs    []float64
	BestCost float64
	BestPos  []float64
	Elapsed  time.Duration
}
