package tuning

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/pthm-cable/diptune/plant"
)

// Uncertainty describes how plant parameters are perturbed for robustness
// evaluation. Fractions maps a parameter name to the half-width of its
// uniform perturbation relative to the nominal value.
type Uncertainty struct {
	Draws     int
	Fractions map[string]float64
}

// Enabled reports whether more than the nominal draw is requested.
func (u Uncertainty) Enabled() bool { return u.Draws > 1 }

// validate checks every perturbed parameter name against the plant.
func (u Uncertainty) validate() error {
	var p plant.Params
	for name := range u.Fractions {
		if p.Field(name) == nil {
			return fmt.Errorf("%w: unknown uncertain parameter %q", ErrConfig, name)
		}
	}
	return nil
}

// DrawSequence yields the nominal parameter set followed by randomly
// perturbed variants. It cannot be restarted: once exhausted, Next keeps
// returning false.
type DrawSequence struct {
	nominal plant.Params
	names   []string
	frac    map[string]float64
	rng     *rand.Rand
	total   int
	emitted int
}

// NewDrawSequence creates a sequence of unc.Draws parameter sets (at least
// one). rng is only consulted for draws after the first.
func NewDrawSequence(nominal plant.Params, unc Uncertainty, rng *rand.Rand) (*DrawSequence, error) {
	if err := unc.validate(); err != nil {
		return nil, err
	}
	total := unc.Draws
	if total < 1 {
		total = 1
	}
	if total > 1 && rng == nil {
		return nil, errors.New("tuning: draw sequence needs a random source")
	}

	names := make([]string, 0, len(unc.Fractions))
	for name, f := range unc.Fractions {
		if f > 0 {
			names = append(names, name)
		}
	}
	// Map order is random; sort so a seeded rng gives identical draws.
	sort.Strings(names)

	return &DrawSequence{
		nominal: nominal,
		names:   names,
		frac:    unc.Fractions,
		rng:     rng,
		total:   total,
	}, nil
}

// Len returns the total number of draws the sequence produces.
func (s *DrawSequence) Len() int { return s.total }

// Next returns the next parameter set.
func (s *DrawSequence) Next() (plant.Params, bool) {
	if s.emitted >= s.total {
		return plant.Params{}, false
	}
	s.emitted++
	if s.emitted == 1 {
		return s.nominal, true
	}

	p := s.nominal
	for _, name := range s.names {
		field := p.Field(name)
		f := s.frac[name]
		*field += (2*s.rng.Float64() - 1) * f * *field
	}

	coms := make([]string, 0, len(plant.COMLimits))
	for com := range plant.COMLimits {
		coms = append(coms, com)
	}
	sort.Strings(coms)
	for _, com := range coms {
		c, l := p.Field(com), p.Field(plant.COMLimits[com])
		if *c > *l {
			*c = 0.99 * *l
		}
	}
	return p, true
}

// Collect drains the remaining draws into a slice.
func (s *DrawSequence) Collect() []plant.Params {
	out := make([]plant.Params, 0, s.total-s.emitted)
	for {
		p, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, p)
	}
}
