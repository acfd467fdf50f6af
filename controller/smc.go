package controller

import (
	"fmt"
	"math"
)

// Every controller below drives the sliding variable σ = s·x, where s comes
// from Linearization.design, and adds the equivalent control that cancels
// the linearized drift of σ. The switching terms then give
// σ̇ = −(reaching law) on the nominal plant.

// Classical is a boundary-layer sliding mode controller.
// Gains: [k1, k2, λ1, λ2, K, kd]. k1 and k2 weight the pendulum angles and
// λ1 and λ2 their rates in the surface design.
type Classical struct {
	gains    [6]float64
	settings Settings
	surf     surface
}

// NewClassical creates a classical SMC.
func NewClassical(gains []float64, s Settings) (*Classical, error) {
	if len(gains) != 6 {
		return nil, fmt.Errorf("%s: want 6 gains, got %d", ClassicalSMC, len(gains))
	}
	s, err := s.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ClassicalSMC, err)
	}
	c := &Classical{settings: s}
	copy(c.gains[:], gains)
	if c.surf, err = s.Plant.design(gains[0], gains[1], gains[2], gains[3]); err != nil {
		return nil, fmt.Errorf("%s: %w", ClassicalSMC, err)
	}
	return c, nil
}

// MaxForce returns the force limit in newtons.
func (c *Classical) MaxForce() float64 { return c.settings.MaxForce }

// NumGains returns the gain-vector length.
func (c *Classical) NumGains() int { return 6 }

// ControllerType returns the configuration name of the controller.
func (c *Classical) ControllerType() string { return ClassicalSMC }

// ComputeControl returns u = u_eq − K·sat(σ/φ) − kd·σ, saturated at the
// force limit.
func (c *Classical) ComputeControl(x []float64, dt float64) Output {
	g := c.gains
	sigma := c.surf.sigma(x)
	phi := layer(c.settings.BoundaryLayer, g[4], dt)
	u := c.surf.equivalent(x) - g[4]*sat(sigma/phi) - g[5]*sigma
	return Output{U: clamp(u, -c.settings.MaxForce, c.settings.MaxForce), Sigma: sigma}
}

// ValidateGains requires six finite positive gains per row.
func (c *Classical) ValidateGains(swarm [][]float64) []bool {
	return validateRows(swarm, 6, allPositive)
}

// SuperTwisting is a second-order sliding mode controller.
// Gains: [K1, K2, k1, k2, λ1, λ2].
type SuperTwisting struct {
	gains    [6]float64
	settings Settings
	surf     surface
	z        float64 // Integral term
}

// NewSuperTwisting creates a super-twisting SMC.
func NewSuperTwisting(gains []float64, s Settings) (*SuperTwisting, error) {
	if len(gains) != 6 {
		return nil, fmt.Errorf("%s: want 6 gains, got %d", SuperTwistingSMC, len(gains))
	}
	s, err := s.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", SuperTwistingSMC, err)
	}
	c := &SuperTwisting{settings: s}
	copy(c.gains[:], gains)
	if c.surf, err = s.Plant.design(gains[2], gains[3], gains[4], gains[5]); err != nil {
		return nil, fmt.Errorf("%s: %w", SuperTwistingSMC, err)
	}
	return c, nil
}

// MaxForce returns the force limit in newtons.
func (c *SuperTwisting) MaxForce() float64 { return c.settings.MaxForce }

// NumGains returns the gain-vector length.
func (c *SuperTwisting) NumGains() int { return 6 }

// ControllerType returns the configuration name of the controller.
func (c *SuperTwisting) ControllerType() string { return SuperTwistingSMC }

// Reset clears the integral term.
func (c *SuperTwisting) Reset() { c.z = 0 }

// ComputeControl returns u = u_eq − K1·√|σ|·sat(σ/φ) − z with ż = K2·sat(σ/φ).
func (c *SuperTwisting) ComputeControl(x []float64, dt float64) Output {
	g := c.gains
	sigma := c.surf.sigma(x)
	s := sat(sigma / twistingLayer(c.settings.BoundaryLayer, g[0], dt))
	umax := c.settings.MaxForce

	c.z = clamp(c.z+g[1]*s*dt, -umax, umax)
	u := c.surf.equivalent(x) - g[0]*math.Sqrt(math.Abs(sigma))*s - c.z
	return Output{U: clamp(u, -umax, umax), Sigma: sigma}
}

// ValidateGains requires positive gains and K1 > K2.
func (c *SuperTwisting) ValidateGains(swarm [][]float64) []bool {
	return validateRows(swarm, 6, func(g []float64) bool {
		return allPositive(g) && g[0] > g[1]
	})
}

// twistingLayer is layer for a √|σ| switching term: one sample of
// k·√|σ| cannot carry σ across the widened layer.
func twistingLayer(phi, k, dt float64) float64 {
	return math.Max(phi, (k*dt)*(k*dt))
}

// Adaptive is a sliding mode controller whose switching gain grows with |σ|
// and leaks back toward its initial value.
// Gains: [k1, k2, λ1, λ2, γ].
type Adaptive struct {
	gains    [5]float64
	settings Settings
	surf     surface
	k        float64 // Adapted switching gain
}

// NewAdaptive creates an adaptive SMC.
func NewAdaptive(gains []float64, s Settings) (*Adaptive, error) {
	if len(gains) != 5 {
		return nil, fmt.Errorf("%s: want 5 gains, got %d", AdaptiveSMC, len(gains))
	}
	s, err := s.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", AdaptiveSMC, err)
	}
	c := &Adaptive{settings: s}
	copy(c.gains[:], gains)
	if c.surf, err = s.Plant.design(gains[0], gains[1], gains[2], gains[3]); err != nil {
		return nil, fmt.Errorf("%s: %w", AdaptiveSMC, err)
	}
	c.Reset()
	return c, nil
}

// MaxForce returns the force limit in newtons.
func (c *Adaptive) MaxForce() float64 { return c.settings.MaxForce }

// NumGains returns the gain-vector length.
func (c *Adaptive) NumGains() int { return 5 }

// ControllerType returns the configuration name of the controller.
func (c *Adaptive) ControllerType() string { return AdaptiveSMC }

// Reset restores the initial switching gain.
func (c *Adaptive) Reset() { c.k = c.settings.KInit }

// ComputeControl adapts K̇ = γ|σ| − leak·(K − K0) outside the boundary layer
// and returns u = u_eq − K·sat(σ/φ).
func (c *Adaptive) ComputeControl(x []float64, dt float64) Output {
	g := c.gains
	sigma := c.surf.sigma(x)
	phi := c.settings.BoundaryLayer

	kdot := -c.settings.LeakRate * (c.k - c.settings.KInit)
	if math.Abs(sigma) > phi {
		kdot += g[4] * math.Abs(sigma)
	}
	c.k = clamp(c.k+kdot*dt, 0, c.settings.KMax)

	u := c.surf.equivalent(x) - c.k*sat(sigma/layer(phi, c.k, dt))
	return Output{U: clamp(u, -c.settings.MaxForce, c.settings.MaxForce), Sigma: sigma}
}

// ValidateGains requires five finite positive gains per row.
func (c *Adaptive) ValidateGains(swarm [][]float64) []bool {
	return validateRows(swarm, 5, allPositive)
}

// HybridAdaptiveSTA combines super-twisting with an adapted twisting gain.
// Gains: [c1, λ1, c2, λ2].
type HybridAdaptiveSTA struct {
	gains    [4]float64
	settings Settings
	surf     surface
	k1       float64
	z        float64
}

// adaptation rate of the hybrid controller's gain.
const hybridGamma = 0.5

// NewHybridAdaptiveSTA creates a hybrid adaptive super-twisting SMC.
func NewHybridAdaptiveSTA(gains []float64, s Settings) (*HybridAdaptiveSTA, error) {
	if len(gains) != 4 {
		return nil, fmt.Errorf("%s: want 4 gains, got %d", HybridSTA, len(gains))
	}
	s, err := s.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", HybridSTA, err)
	}
	c := &HybridAdaptiveSTA{settings: s}
	copy(c.gains[:], gains)
	if c.surf, err = s.Plant.design(gains[0], gains[2], gains[1], gains[3]); err != nil {
		return nil, fmt.Errorf("%s: %w", HybridSTA, err)
	}
	c.Reset()
	return c, nil
}

// MaxForce returns the force limit in newtons.
func (c *HybridAdaptiveSTA) MaxForce() float64 { return c.settings.MaxForce }

// NumGains returns the gain-vector length.
func (c *HybridAdaptiveSTA) NumGains() int { return 4 }

// ControllerType returns the configuration name of the controller.
func (c *HybridAdaptiveSTA) ControllerType() string { return HybridSTA }

// Reset restores the initial twisting gain and clears the integral term.
func (c *HybridAdaptiveSTA) Reset() {
	c.k1 = c.settings.KInit
	c.z = 0
}

// ComputeControl returns u = u_eq − k1·√|σ|·sat(σ/φ) − z with k2 = k1/2
// driving z.
func (c *HybridAdaptiveSTA) ComputeControl(x []float64, dt float64) Output {
	sigma := c.surf.sigma(x)
	phi := c.settings.BoundaryLayer
	umax := c.settings.MaxForce

	kdot := -c.settings.LeakRate * c.k1
	if math.Abs(sigma) > phi {
		kdot += hybridGamma * math.Abs(sigma)
	}
	c.k1 = clamp(c.k1+kdot*dt, 0, c.settings.KMax)

	s := sat(sigma / twistingLayer(phi, c.k1, dt))
	c.z = clamp(c.z+0.5*c.k1*s*dt, -umax, umax)

	u := c.surf.equivalent(x) - c.k1*math.Sqrt(math.Abs(sigma))*s - c.z
	return Output{U: clamp(u, -umax, umax), Sigma: sigma}
}

// ValidateGains requires four finite positive gains per row.
func (c *HybridAdaptiveSTA) ValidateGains(swarm [][]float64) []bool {
	return validateRows(swarm, 4, allPositive)
}
