// Package plant models the double inverted pendulum on a cart and simulates
// batches of controllers against it.
package plant

import (
	"log/slog"

	"github.com/pthm-cable/diptune/config"
)

// Params holds the physical parameters of the cart and both pendulums.
type Params struct {
	CartMass         float64
	Pendulum1Mass    float64
	Pendulum2Mass    float64
	Pendulum1Length  float64
	Pendulum2Length  float64
	Pendulum1COM     float64
	Pendulum2COM     float64
	Pendulum1Inertia float64
	Pendulum2Inertia float64
	Gravity          float64
	CartFriction     float64
	Joint1Friction   float64
	Joint2Friction   float64
}

// FromConfig converts the physics section of the configuration.
func FromConfig(pc config.PhysicsConfig) Params {
	return Params{
		CartMass:         pc.CartMass,
		Pendulum1Mass:    pc.Pendulum1Mass,
		Pendulum2Mass:    pc.Pendulum2Mass,
		Pendulum1Length:  pc.Pendulum1Length,
		Pendulum2Length:  pc.Pendulum2Length,
		Pendulum1COM:     pc.Pendulum1COM,
		Pendulum2COM:     pc.Pendulum2COM,
		Pendulum1Inertia: pc.Pendulum1Inertia,
		Pendulum2Inertia: pc.Pendulum2Inertia,
		Gravity:          pc.Gravity,
		CartFriction:     pc.CartFriction,
		Joint1Friction:   pc.Joint1Friction,
		Joint2Friction:   pc.Joint2Friction,
	}
}

// Field returns a pointer to the parameter with the given configuration
// name, or nil if no such parameter exists.
func (p *Params) Field(name string) *float64 {
	switch name {
	case "cart_mass":
		return &p.CartMass
	case "pendulum1_mass":
		return &p.Pendulum1Mass
	case "pendulum2_mass":
		return &p.Pendulum2Mass
	case "pendulum1_length":
		return &p.Pendulum1Length
	case "pendulum2_length":
		return &p.Pendulum2Length
	case "pendulum1_com":
		return &p.Pendulum1COM
	case "pendulum2_com":
		return &p.Pendulum2COM
	case "pendulum1_inertia":
		return &p.Pendulum1Inertia
	case "pendulum2_inertia":
		return &p.Pendulum2Inertia
	case "gravity":
		return &p.Gravity
	case "cart_friction":
		return &p.CartFriction
	case "joint1_friction":
		return &p.Joint1Friction
	case "joint2_friction":
		return &p.Joint2Friction
	}
	return nil
}

// COMLimits maps each centre-of-mass parameter to the length it must stay
// below.
var COMLimits = map[string]string{
	"pendulum1_com": "pendulum1_length",
	"pendulum2_com": "pendulum2_length",
}

// LogValue implements slog.LogValuer for structured logging.
func (p Params) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("cart_mass", p.CartMass),
		slog.Float64("pendulum1_mass", p.Pendulum1Mass),
		slog.Float64("pendulum2_mass", p.Pendulum2Mass),
		slog.Float64("pendulum1_com", p.Pendulum1COM),
		slog.Float64("pendulum2_com", p.Pendulum2COM),
	)
}
