/*package integrator advances particles by one kick-drift step: velocities are
kicked by the clamped acceleration and then positions drift with the new
velocities.
*/
package integrator

import (
	"fmt"
	"math"

	"github.com/oyin-bo/three-g-sub002/compute"
	"github.com/oyin-bo/three-g-sub002/geom"
	"github.com/oyin-bo/three-g-sub002/particle"
	"gonum.org/v1/gonum/spatial/r3"
)

// Params control a single step.
type Params struct {
	Dt float64
	// Damping is the fraction of velocity removed each step.
	Damping float64
	// MaxSpeed and MaxAccel clamp the magnitudes of velocity and
	// acceleration.
	MaxSpeed, MaxAccel float64
}

// Validate returns an error if any parameter is out of range.
func (p *Params) Validate() error {
	switch {
	case !(p.Dt > 0) || math.IsInf(p.Dt, 0):
		return fmt.Errorf(
			"%w: Need to specify a positive, finite Dt, got %g.",
			compute.ErrConfig, p.Dt,
		)
	case !(p.Damping >= 0 && p.Damping <= 1):
		return fmt.Errorf(
			"%w: Damping must be in [0, 1], got %g.", compute.ErrConfig, p.Damping,
		)
	case !(p.MaxSpeed > 0):
		return fmt.Errorf(
			"%w: MaxSpeed must be positive, got %g.", compute.ErrConfig, p.MaxSpeed,
		)
	case !(p.MaxAccel > 0):
		return fmt.Errorf(
			"%w: MaxAccel must be positive, got %g.", compute.ErrConfig, p.MaxAccel,
		)
	}
	return nil
}

// Integrator applies Params to n particles.
type Integrator struct {
	ctx    *compute.Context
	n      int
	params Params
}

// New creates an Integrator for n particles.
func New(ctx *compute.Context, n int, p Params) (*Integrator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	} else if n <= 0 {
		return nil, fmt.Errorf(
			"%w: Need a positive particle count, got %d.", compute.ErrConfig, n,
		)
	}
	return &Integrator{ctx: ctx, n: n, params: p}, nil
}

// Params returns the step parameters.
func (in *Integrator) Params() Params { return in.params }

// Run reads positions, velocities and accelerations and writes the stepped
// particles into posOut and velOut. Particles with non-finite data or
// non-positive mass are copied unchanged. Mass and aux always pass through.
func (in *Integrator) Run(pos, vel, forces, posOut, velOut *compute.Buffer) error {
	need := in.n * particle.Stride
	bufs := []struct {
		name string
		buf  *compute.Buffer
	}{
		{"positions", pos}, {"velocities", vel}, {"forces", forces},
		{"output positions", posOut}, {"output velocities", velOut},
	}
	for _, b := range bufs {
		if b.buf == nil || b.buf.Data == nil {
			return fmt.Errorf(
				"%w: integration has no %s buffer", compute.ErrPrecondition, b.name,
			)
		} else if b.buf.Len() < need {
			return fmt.Errorf(
				"%w: %s buffer holds %d values, need %d",
				compute.ErrPrecondition, b.name, b.buf.Len(), need,
			)
		}
	}
	if posOut == pos || velOut == vel {
		return fmt.Errorf(
			"%w: integration cannot write into its own inputs",
			compute.ErrPrecondition,
		)
	}

	x, v, f := pos.Data, vel.Data, forces.Data
	p := in.params
	return in.ctx.WithBlend(compute.BlendReplace, func() error {
		wx, wv := in.ctx.Writer(posOut), in.ctx.Writer(velOut)
		return in.ctx.Dispatch(in.n, func(_, lo, hi int) {
			for i := lo; i < hi; i++ {
				j := i * particle.Stride
				xi, vi := particle.Position(x, i), particle.Velocity(v, i)
				ai := particle.Position(f, i)
				m := x[j+3]

				if geom.FiniteVec(xi) && geom.FiniteVec(vi) &&
					geom.FiniteVec(ai) && finite(m) && m > 0 {
					xi, vi = p.kickDrift(xi, vi, ai)
				}

				wx.Write(j, xi.X)
				wx.Write(j+1, xi.Y)
				wx.Write(j+2, xi.Z)
				wx.Write(j+3, m)
				wv.Write(j, vi.X)
				wv.Write(j+1, vi.Y)
				wv.Write(j+2, vi.Z)
				wv.Write(j+3, v[j+3])
			}
		})
	})
}

// kickDrift advances a single particle.
func (p *Params) kickDrift(x, v, a r3.Vec) (r3.Vec, r3.Vec) {
	a = clamp(a, p.MaxAccel)
	v = r3.Add(v, r3.Scale(p.Dt, a))
	v = r3.Scale(1-p.Damping, v)
	v = clamp(v, p.MaxSpeed)
	return r3.Add(x, r3.Scale(p.Dt, v)), v
}

func clamp(v r3.Vec, max float64) r3.Vec {
	if n := r3.Norm(v); n > max {
		return r3.Scale(max/n, v)
	}
	return v
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }
