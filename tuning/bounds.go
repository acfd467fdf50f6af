package tuning

import (
	"fmt"

	"github.com/pthm-cable/diptune/config"
	"github.com/pthm-cable/diptune/controller"
)

// Bound values used when configured bounds are shorter than the gain vector.
const (
	padLower = 0.1
	padUpper = 50.0
)

// resolveDims finds the gain-vector length: an explicit hint from the
// factory first, then a probe controller built from the type's default gains.
func resolveDims(factory controller.Factory, kind string) (int, error) {
	if gc, ok := factory.(controller.GainCounter); ok && gc.NumGains() > 0 {
		return gc.NumGains(), nil
	}

	probe, err := controller.DefaultGains(kind)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDimension, err)
	}
	c, err := factory.New(probe)
	if err != nil {
		return 0, fmt.Errorf("%w: probing %s: %v", ErrDimension, kind, err)
	}
	if gc, ok := c.(controller.GainCounter); ok && gc.NumGains() > 0 {
		return gc.NumGains(), nil
	}
	return len(probe), nil
}

// resolveBounds returns lower and upper bounds of length dims, preferring the
// controller-specific table and falling back to the generic one.
func resolveBounds(cfg *config.Config, kind string, dims int) ([]float64, []float64, error) {
	lo, hi := cfg.BoundsFor(kind)
	if len(lo) != len(hi) {
		return nil, nil, fmt.Errorf("%w: %s has %d lower and %d upper values", ErrBoundsMismatch, kind, len(lo), len(hi))
	}

	lo = fitLength(lo, dims, padLower)
	hi = fitLength(hi, dims, padUpper)
	for d := range lo {
		if !(lo[d] < hi[d]) {
			return nil, nil, fmt.Errorf("%w: bound %d is empty [%g, %g]", ErrConfig, d, lo[d], hi[d])
		}
	}
	return lo, hi, nil
}

// fitLength truncates v or pads it with pad to exactly n values.
func fitLength(v []float64, n int, pad float64) []float64 {
	out := make([]float64, n)
	copy(out, v)
	for i := len(v); i < n; i++ {
		out[i] = pad
	}
	return out
}
