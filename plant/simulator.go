package plant

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/sourcegraph/conc/pool"

	"github.com/pthm-cable/diptune/controller"
)

// ExplosionLimit is the state magnitude beyond which integration of a
// particle stops and its remaining samples are NaN.
const ExplosionLimit = 1e6

// Batch is the result of simulating every particle against one parameter
// set. States are indexed [particle][sample][dim] with len(Time) samples;
// Controls and Sliding are indexed [particle][step] with len(Time)-1 steps.
type Batch struct {
	Time     []float64
	States   [][][]float64
	Controls [][]float64
	Sliding  [][]float64
}

// Particles returns the number of particles in the batch.
func (b Batch) Particles() int { return len(b.States) }

// Outcome is either a single-draw batch or one batch per parameter draw.
type Outcome struct {
	Single *Batch
	Multi  []Batch
}

// Draws returns the outcome as a list of batches, one per draw.
func (o Outcome) Draws() []Batch {
	if o.Single != nil {
		return []Batch{*o.Single}
	}
	return o.Multi
}

// BatchSimulator integrates the plant for many controllers at once,
// fanning particles out over a bounded goroutine pool.
type BatchSimulator struct {
	nominal Params
	initial []float64
	workers int
}

// NewBatchSimulator creates a simulator starting every run from initial.
func NewBatchSimulator(nominal Params, initial []float64) (*BatchSimulator, error) {
	if len(initial) != StateDim {
		return nil, fmt.Errorf("initial state needs %d entries, got %d", StateDim, len(initial))
	}
	return &BatchSimulator{
		nominal: nominal,
		initial: append([]float64(nil), initial...),
		workers: runtime.GOMAXPROCS(0),
	}, nil
}

// SetWorkers bounds the number of concurrently simulated particles.
func (s *BatchSimulator) SetWorkers(n int) {
	if n > 0 {
		s.workers = n
	}
}

// Nominal returns the nominal parameter set.
func (s *BatchSimulator) Nominal() Params { return s.nominal }

// SimulateBatch simulates each particle for simTime seconds with step dt and
// force limit uMax. With no params the nominal plant is used; with more than
// one parameter set the outcome holds one batch per set.
//
// A controller that cannot be built for a particle yields an all-NaN
// trajectory for that particle rather than an error.
func (s *BatchSimulator) SimulateBatch(
	ctx context.Context,
	factory controller.Factory,
	particles [][]float64,
	simTime, dt, uMax float64,
	params []Params,
) (Outcome, error) {
	if dt <= 0 || simTime <= 0 {
		return Outcome{}, fmt.Errorf("invalid horizon: sim_time=%g dt=%g", simTime, dt)
	}
	if len(particles) == 0 {
		return Outcome{}, errors.New("no particles to simulate")
	}
	if len(params) == 0 {
		params = []Params{s.nominal}
	}

	steps := int(math.Round(simTime / dt))
	timeGrid := make([]float64, steps+1)
	for k := range timeGrid {
		timeGrid[k] = float64(k) * dt
	}

	batches := make([]Batch, len(params))
	for d := range batches {
		batches[d] = Batch{
			Time:     timeGrid,
			States:   make([][][]float64, len(particles)),
			Controls: make([][]float64, len(particles)),
			Sliding:  make([][]float64, len(particles)),
		}
	}

	p := pool.New().WithMaxGoroutines(s.workers).WithContext(ctx)
	for d := range params {
		for i := range particles {
			d, i := d, i
			p.Go(func(ctx context.Context) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				st, u, sigma := s.run(factory, particles[i], params[d], steps, dt, uMax)
				batches[d].States[i] = st
				batches[d].Controls[i] = u
				batches[d].Sliding[i] = sigma
				return nil
			})
		}
	}
	if err := p.Wait(); err != nil {
		return Outcome{}, fmt.Errorf("simulating batch: %w", err)
	}

	if len(batches) == 1 {
		return Outcome{Single: &batches[0]}, nil
	}
	return Outcome{Multi: batches}, nil
}

// run simulates one controller. Writes only to freshly allocated slices so
// concurrent runs share nothing.
func (s *BatchSimulator) run(factory controller.Factory, gains []float64, p Params, steps int, dt, uMax float64) ([][]float64, []float64, []float64) {
	states := make([][]float64, steps+1)
	controls := make([]float64, steps)
	sliding := make([]float64, steps)

	ctrl, err := factory.New(gains)
	if err != nil {
		fillNaN(states, controls, sliding, 0)
		return states, controls, sliding
	}
	if r, ok := ctrl.(controller.Resetter); ok {
		r.Reset()
	}

	in := newIntegrator(NewModel(p))
	x := append([]float64(nil), s.initial...)
	states[0] = append([]float64(nil), x...)

	for k := 0; k < steps; k++ {
		out := ctrl.ComputeControl(x, dt)
		u := math.Max(-uMax, math.Min(uMax, out.U))
		controls[k] = u
		sliding[k] = out.Sigma

		in.step(x, u, dt)
		if exploded(x) {
			fillNaN(states, controls, sliding, k+1)
			return states, controls, sliding
		}
		states[k+1] = append([]float64(nil), x...)
	}
	return states, controls, sliding
}

func exploded(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.Abs(v) > ExplosionLimit {
			return true
		}
	}
	return false
}

// fillNaN marks every sample from index from onward as diverged.
func fillNaN(states [][]float64, controls, sliding []float64, from int) {
	for k := from; k < len(states); k++ {
		row := make([]float64, StateDim)
		for i := range row {
			row[i] = math.NaN()
		}
		states[k] = row
	}
	for k := from; k < len(controls); k++ {
		controls[k] = math.NaN()
		sliding[k] = math.NaN()
	}
}
