package plant

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// State vector layout.
const (
	IdxX = iota
	IdxTheta1
	IdxTheta2
	IdxXDot
	IdxTheta1Dot
	IdxTheta2Dot
	StateDim
)

// Model evaluates the equations of motion for one parameter set. Angles are
// measured from upright; the cart force acts along +x.
type Model struct {
	p Params

	// Scratch space reused across derivative evaluations.
	mass *mat.SymDense
	rhs  *mat.VecDense
	acc  *mat.VecDense
	chol mat.Cholesky
}

// NewModel creates a model for p.
func NewModel(p Params) *Model {
	return &Model{
		p:    p,
		mass: mat.NewSymDense(3, nil),
		rhs:  mat.NewVecDense(3, nil),
		acc:  mat.NewVecDense(3, nil),
	}
}

// Derivative writes ds/dt for state s under cart force u into out.
// If the mass matrix is singular every entry of out is NaN.
func (m *Model) Derivative(out, s []float64, u float64) {
	p := m.p
	th1, th2 := s[IdxTheta1], s[IdxTheta2]
	xd, w1, w2 := s[IdxXDot], s[IdxTheta1Dot], s[IdxTheta2Dot]

	s1, c1 := math.Sincos(th1)
	s2, c2 := math.Sincos(th2)
	s12, c12 := math.Sincos(th1 - th2)

	a1 := p.Pendulum1Mass*p.Pendulum1COM + p.Pendulum2Mass*p.Pendulum1Length
	a2 := p.Pendulum2Mass * p.Pendulum2COM
	a12 := p.Pendulum2Mass * p.Pendulum1Length * p.Pendulum2COM

	m.mass.SetSym(0, 0, p.CartMass+p.Pendulum1Mass+p.Pendulum2Mass)
	m.mass.SetSym(0, 1, a1*c1)
	m.mass.SetSym(0, 2, a2*c2)
	m.mass.SetSym(1, 1, p.Pendulum1Mass*p.Pendulum1COM*p.Pendulum1COM+
		p.Pendulum2Mass*p.Pendulum1Length*p.Pendulum1Length+p.Pendulum1Inertia)
	m.mass.SetSym(1, 2, a12*c12)
	m.mass.SetSym(2, 2, p.Pendulum2Mass*p.Pendulum2COM*p.Pendulum2COM+p.Pendulum2Inertia)

	m.rhs.SetVec(0, u-p.CartFriction*xd+a1*s1*w1*w1+a2*s2*w2*w2)
	m.rhs.SetVec(1, a1*p.Gravity*s1-a12*s12*w2*w2-p.Joint1Friction*w1)
	m.rhs.SetVec(2, a2*p.Gravity*s2+a12*s12*w1*w1-p.Joint2Friction*w2)

	if ok := m.chol.Factorize(m.mass); !ok {
		for i := range out {
			out[i] = math.NaN()
		}
		return
	}
	if err := m.chol.SolveVecTo(m.acc, m.rhs); err != nil {
		for i := range out {
			out[i] = math.NaN()
		}
		return
	}

	out[IdxX] = xd
	out[IdxTheta1] = w1
	out[IdxTheta2] = w2
	out[IdxXDot] = m.acc.AtVec(0)
	out[IdxTheta1Dot] = m.acc.AtVec(1)
	out[IdxTheta2Dot] = m.acc.AtVec(2)
}

// integrator advances a state with classical RK4 and zero-order-hold input.
type integrator struct {
	model          *Model
	k1, k2, k3, k4 []float64
	tmp            []float64
}

func newIntegrator(m *Model) *integrator {
	return &integrator{
		model: m,
		k1:    make([]float64, StateDim),
		k2:    make([]float64, StateDim),
		k3:    make([]float64, StateDim),
		k4:    make([]float64, StateDim),
		tmp:   make([]float64, StateDim),
	}
}

// step advances s in place by dt.
func (in *integrator) step(s []float64, u, dt float64) {
	addScaled := func(k []float64, h float64) []float64 {
		for i := range s {
			in.tmp[i] = s[i] + h*k[i]
		}
		return in.tmp
	}

	in.model.Derivative(in.k1, s, u)
	in.model.Derivative(in.k2, addScaled(in.k1, 0.5*dt), u)
	in.model.Derivative(in.k3, addScaled(in.k2, 0.5*dt), u)
	in.model.Derivative(in.k4, addScaled(in.k3, dt), u)

	for i := range s {
		s[i] += (dt / 6.0) * (in.k1[i] + 2.0*in.k2[i] + 2.0*in.k3[i] + in.k4[i])
	}
}
