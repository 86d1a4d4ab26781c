package traversal

import (
	"math"

	"github.com/oyin-bo/three-g-sub002/octree"
	"gonum.org/v1/gonum/spatial/r3"
)

// law evaluates the acceleration at p due to the moments m.
type law struct {
	g, eps2    float64
	quadrupole bool
}

func (f *law) accel(p r3.Vec, m *octree.Moments) r3.Vec {
	mass := m.Mass()
	com := r3.Vec{X: m.A0[0] / mass, Y: m.A0[1] / mass, Z: m.A0[2] / mass}
	r := r3.Sub(p, com)

	d2 := r3.Dot(r, r) + f.eps2
	if d2 == 0 {
		return r3.Vec{}
	}
	d := math.Sqrt(d2)
	inv3 := 1 / (d2 * d)

	a := r3.Scale(-f.g*mass*inv3, r)
	if !f.quadrupole {
		return a
	}

	q := traceless(m, mass, com)
	qr := r3.Vec{
		X: q[0][0]*r.X + q[0][1]*r.Y + q[0][2]*r.Z,
		Y: q[1][0]*r.X + q[1][1]*r.Y + q[1][2]*r.Z,
		Z: q[2][0]*r.X + q[2][1]*r.Y + q[2][2]*r.Z,
	}
	rqr := r3.Dot(r, qr)
	inv5 := inv3 / d2
	inv7 := inv5 / d2

	return r3.Add(a, r3.Add(
		r3.Scale(f.g*inv5, qr),
		r3.Scale(-2.5*f.g*rqr*inv7, r),
	))
}

// traceless returns Q = 3C - tr(C) I, where C is the second moment tensor
// about the centre of mass.
func traceless(m *octree.Moments, mass float64, c r3.Vec) [3][3]float64 {
	cxx := m.A1[0] - mass*c.X*c.X
	cyy := m.A1[1] - mass*c.Y*c.Y
	czz := m.A1[2] - mass*c.Z*c.Z
	cxy := m.A1[3] - mass*c.X*c.Y
	cxz := m.A2[0] - mass*c.X*c.Z
	cyz := m.A2[1] - mass*c.Y*c.Z
	tr := cxx + cyy + czz

	return [3][3]float64{
		{3*cxx - tr, 3 * cxy, 3 * cxz},
		{3 * cxy, 3*cyy - tr, 3 * cyz},
		{3 * cxz, 3 * cyz, 3*czz - tr},
	}
}
