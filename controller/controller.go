// Package controller defines the controller capabilities the tuner probes for
// and provides the sliding-mode controllers it tunes.
package controller

import (
	"fmt"
	"math"
)

// Controller type names, as used in configuration.
const (
	ClassicalSMC        = "classical_smc"
	SuperTwistingSMC    = "sta_smc"
	AdaptiveSMC         = "adaptive_smc"
	HybridSTA           = "hybrid_adaptive_sta_smc"
	DefaultBoundary     = 0.01
	DefaultMaxForce     = 150.0
	minBoundaryLayerVal = 1e-6
)

// Output is the result of one control computation.
type Output struct {
	U     float64 // Saturated cart force
	Sigma float64 // Sliding variable
}

// Controller computes a cart force from the plant state
// [x, θ1, θ2, ẋ, θ̇1, θ̇2]. Controllers may carry internal state
// (integrators, adapted gains) between calls.
type Controller interface {
	MaxForce() float64
	ComputeControl(x []float64, dt float64) Output
}

// GainValidator is implemented by controllers that can reject gain vectors
// before any simulation is run. The result has one entry per row.
type GainValidator interface {
	ValidateGains(swarm [][]float64) []bool
}

// Resetter is implemented by controllers with internal state that must be
// initialized before a simulation run.
type Resetter interface {
	Reset()
}

// GainCounter reports the number of gains a controller or factory expects.
type GainCounter interface {
	NumGains() int
}

// TypeNamer reports the configuration name of a controller type.
type TypeNamer interface {
	ControllerType() string
}

// Factory builds a controller from a gain vector.
type Factory interface {
	New(gains []float64) (Controller, error)
}

// FactoryFunc adapts a plain function to Factory. It carries no gain-count
// hint, so callers must probe a built controller for dimensionality.
type FactoryFunc func(gains []float64) (Controller, error)

// New calls f(gains).
func (f FactoryFunc) New(gains []float64) (Controller, error) {
	return f(gains)
}

// Settings holds the non-gain parameters shared by all controller types.
type Settings struct {
	MaxForce      float64
	BoundaryLayer float64
	KInit         float64
	KMax          float64
	LeakRate      float64

	// Plant the sliding surfaces are designed for. Nil means the default
	// physics configuration.
	Plant *Linearization
}

func (s Settings) withDefaults() (Settings, error) {
	if s.MaxForce <= 0 {
		s.MaxForce = DefaultMaxForce
	}
	if s.BoundaryLayer < minBoundaryLayerVal {
		s.BoundaryLayer = DefaultBoundary
	}
	if s.KMax <= 0 {
		s.KMax = 100
	}
	if s.Plant == nil {
		lin, err := defaultLinearization()
		if err != nil {
			return s, fmt.Errorf("linearizing default plant: %w", err)
		}
		s.Plant = lin
	}
	return s, nil
}

// DefaultGains returns the probe gain vector for a controller type.
func DefaultGains(kind string) ([]float64, error) {
	switch kind {
	case ClassicalSMC:
		return []float64{5, 5, 5, 0.5, 0.5, 0.5}, nil
	case SuperTwistingSMC:
		return []float64{8, 4, 12, 6, 4.85, 3.43}, nil
	case AdaptiveSMC:
		return []float64{10, 8, 5, 4, 1}, nil
	case HybridSTA:
		return []float64{5, 5, 5, 0.5}, nil
	}
	return nil, fmt.Errorf("unknown controller type %q", kind)
}

// clamp bounds x into [lo, hi].
func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// sat implements the boundary-layer saturation used in sliding mode control.
func sat(z float64) float64 { return clamp(z, -1.0, 1.0) }

// layer widens the boundary layer φ to the distance a switching gain k
// moves σ in one sample of length dt, so a sampled loop settles inside it
// instead of chattering across it.
func layer(phi, k, dt float64) float64 {
	return math.Max(phi, k*dt)
}

// allPositive reports whether every gain is finite and strictly positive.
func allPositive(g []float64) bool {
	for _, v := range g {
		if !(v > 0) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func validateRows(swarm [][]float64, n int, ok func([]float64) bool) []bool {
	valid := make([]bool, len(swarm))
	for i, row := range swarm {
		valid[i] = len(row) == n && ok(row)
	}
	return valid
}
