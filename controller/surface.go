package controller

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/pthm-cable/diptune/config"
)

// StateDim is the length of the plant state [x, θ1, θ2, ẋ, θ̇1, θ̇2].
const StateDim = 6

// Surface design constants.
const (
	designStep    = 0.01 // Sample time of the discrete design
	cartWeight    = 1.0  // State weight on cart position and velocity
	controlWeight = 1.0
	maxDoublings  = 64
	doublingTol   = 1e-10
)

// ErrSurface is returned when no sliding surface can be designed for a
// gain vector.
var ErrSurface = errors.New("sliding surface design failed")

// Linearization is the plant linearized about the upright equilibrium,
// ẋ = A·x + B·u, together with its zero-order-hold discretization.
type Linearization struct {
	a  *mat.Dense
	b  *mat.VecDense
	ad *mat.Dense
	bd *mat.VecDense
}

// Linearize builds the upright linearization of the plant described by pc.
func Linearize(pc config.PhysicsConfig) (*Linearization, error) {
	a1 := pc.Pendulum1Mass*pc.Pendulum1COM + pc.Pendulum2Mass*pc.Pendulum1Length
	a2 := pc.Pendulum2Mass * pc.Pendulum2COM
	a12 := pc.Pendulum2Mass * pc.Pendulum1Length * pc.Pendulum2COM

	mass := mat.NewSymDense(3, []float64{
		pc.CartMass + pc.Pendulum1Mass + pc.Pendulum2Mass, a1, a2,
		a1, pc.Pendulum1Mass*pc.Pendulum1COM*pc.Pendulum1COM + pc.Pendulum2Mass*pc.Pendulum1Length*pc.Pendulum1Length + pc.Pendulum1Inertia, a12,
		a2, a12, pc.Pendulum2Mass*pc.Pendulum2COM*pc.Pendulum2COM + pc.Pendulum2Inertia,
	})
	var chol mat.Cholesky
	if ok := chol.Factorize(mass); !ok {
		return nil, fmt.Errorf("%w: mass matrix is not positive definite", ErrSurface)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSurface, err)
	}

	// Generalized stiffness and damping at the upright position.
	stiff := [3]float64{0, a1 * pc.Gravity, a2 * pc.Gravity}
	damp := [3]float64{-pc.CartFriction, -pc.Joint1Friction, -pc.Joint2Friction}

	a := mat.NewDense(StateDim, StateDim, nil)
	b := mat.NewVecDense(StateDim, nil)
	for i := 0; i < 3; i++ {
		a.Set(i, 3+i, 1)
		for j := 0; j < 3; j++ {
			a.Set(3+i, j, inv.At(i, j)*stiff[j])
			a.Set(3+i, 3+j, inv.At(i, j)*damp[j])
		}
		b.SetVec(3+i, inv.At(i, 0))
	}

	// exp([[A B] [0 0]]·h) = [[Ad Bd] [0 I]]
	aug := mat.NewDense(StateDim+1, StateDim+1, nil)
	for i := 0; i < StateDim; i++ {
		for j := 0; j < StateDim; j++ {
			aug.Set(i, j, a.At(i, j)*designStep)
		}
		aug.Set(i, StateDim, b.AtVec(i)*designStep)
	}
	var e mat.Dense
	e.Exp(aug)

	bd := mat.NewVecDense(StateDim, nil)
	for i := 0; i < StateDim; i++ {
		bd.SetVec(i, e.At(i, StateDim))
	}
	return &Linearization{
		a:  a,
		b:  b,
		ad: mat.DenseCopyOf(e.Slice(0, StateDim, 0, StateDim)),
		bd: bd,
	}, nil
}

var defaultLinearization = sync.OnceValues(func() (*Linearization, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	return Linearize(cfg.Physics)
})

// surface is the sliding variable σ = s·x, scaled so that s·B = 1. drift is
// s·A, the part of σ̇ that the equivalent control cancels.
type surface struct {
	s     [StateDim]float64
	drift [StateDim]float64
}

func (sf *surface) sigma(x []float64) float64 {
	var v float64
	for i, c := range sf.s {
		v += c * x[i]
	}
	return v
}

// equivalent returns the control that holds σ̇ = 0 on the linearized plant.
func (sf *surface) equivalent(x []float64) float64 {
	var v float64
	for i, c := range sf.drift {
		v -= c * x[i]
	}
	return v
}

// design returns the surface normal to the optimal cost-to-go of the
// linear-quadratic problem with angle weights q1, q2 and angular-rate
// weights r1, r2. The cart terms carry a fixed weight. For any positive
// weights the motion on σ = 0 is asymptotically stable.
func (l *Linearization) design(q1, q2, r1, r2 float64) (surface, error) {
	for _, w := range []float64{q1, q2, r1, r2} {
		if !(w > 0) || math.IsInf(w, 0) {
			return surface{}, fmt.Errorf("%w: weights must be finite and positive, got %v",
				ErrSurface, []float64{q1, q2, r1, r2})
		}
	}
	weights := []float64{cartWeight, q1, q2, cartWeight, r1, r2}
	for i := range weights {
		weights[i] *= designStep
	}

	p, err := solveDARE(l.ad, l.bd, mat.NewDiagDense(StateDim, weights), controlWeight*designStep)
	if err != nil {
		return surface{}, err
	}

	var sf surface
	var norm float64
	for j := 0; j < StateDim; j++ {
		for i := 0; i < StateDim; i++ {
			sf.s[j] += l.b.AtVec(i) * p.At(i, j)
		}
	}
	for j, c := range sf.s {
		norm += c * l.b.AtVec(j)
	}
	if !(norm > 0) || math.IsInf(norm, 0) {
		return surface{}, fmt.Errorf("%w: surface does not see the input", ErrSurface)
	}
	for j := range sf.s {
		sf.s[j] /= norm
	}
	for j := 0; j < StateDim; j++ {
		for i, c := range sf.s {
			sf.drift[j] += c * l.a.At(i, j)
		}
	}
	return sf, nil
}

// solveDARE solves the discrete algebraic Riccati equation
// P = AᵀPA − AᵀPB(r + BᵀPB)⁻¹BᵀPA + Q with the structure-preserving
// doubling iteration.
func solveDARE(ad *mat.Dense, bd *mat.VecDense, q mat.Matrix, r float64) (*mat.Dense, error) {
	n, _ := ad.Dims()
	eye := mat.NewDiagDense(n, nil)
	for i := 0; i < n; i++ {
		eye.SetDiag(i, 1)
	}

	a := mat.DenseCopyOf(ad)
	g := mat.NewDense(n, n, nil)
	g.Outer(1/r, bd, bd)
	h := mat.DenseCopyOf(q)

	for it := 0; it < maxDoublings; it++ {
		var w mat.Dense
		w.Mul(g, h)
		w.Add(&w, eye)

		var wa, wg mat.Dense
		if err := wa.Solve(&w, a); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSurface, err)
		}
		if err := wg.Solve(&w, g); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSurface, err)
		}

		var tmp, hn, gn, an mat.Dense
		tmp.Mul(h, &wa)
		hn.Mul(a.T(), &tmp)
		hn.Add(&hn, h)

		var tmp2 mat.Dense
		tmp2.Mul(a, &wg)
		gn.Mul(&tmp2, a.T())
		gn.Add(&gn, g)

		an.Mul(a, &wa)

		var diff mat.Dense
		diff.Sub(&hn, h)
		change := mat.Norm(&diff, 2)
		a, g, h = &an, &gn, &hn
		if math.IsNaN(change) || math.IsInf(change, 0) {
			break
		}
		if change <= doublingTol*(1+mat.Norm(h, 2)) {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: Riccati iteration did not converge", ErrSurface)
}
