/*package diag computes conserved quantities of a particle system, which are
used to monitor the health of a running simulation.
*/
package diag

import (
	"github.com/oyin-bo/three-g-sub002/geom"
	"github.com/oyin-bo/three-g-sub002/octree"
	"github.com/oyin-bo/three-g-sub002/particle"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"
)

// Summary holds the global quantities of a particle system. Only valid
// particles are counted.
type Summary struct {
	Count         int     `json:"count"`
	Mass          float64 `json:"mass"`
	CenterOfMass  r3.Vec  `json:"centerOfMass"`
	Momentum      r3.Vec  `json:"momentum"`
	KineticEnergy float64 `json:"kineticEnergy"`
}

// Summarize computes the Summary of stride-4 position and velocity
// buffers.
func Summarize(pos, vel []float64) Summary {
	n := particle.Count(pos)
	m := make([]float64, 0, n)
	var xs, vs [3][]float64
	v2 := make([]float64, 0, n)

	for i := 0; i < n; i++ {
		if !particle.Valid(pos, i) {
			continue
		}
		x, v := particle.Position(pos, i), particle.Velocity(vel, i)
		if !geom.FiniteVec(v) {
			continue
		}
		m = append(m, particle.Mass(pos, i))
		xs[0], xs[1], xs[2] = append(xs[0], x.X), append(xs[1], x.Y), append(xs[2], x.Z)
		vs[0], vs[1], vs[2] = append(vs[0], v.X), append(vs[1], v.Y), append(vs[2], v.Z)
		v2 = append(v2, r3.Dot(v, v))
	}

	s := Summary{Count: len(m), Mass: floats.Sum(m)}
	if s.Count == 0 {
		return s
	}

	s.Momentum = r3.Vec{
		X: floats.Dot(m, vs[0]), Y: floats.Dot(m, vs[1]), Z: floats.Dot(m, vs[2]),
	}
	com := r3.Vec{
		X: floats.Dot(m, xs[0]), Y: floats.Dot(m, xs[1]), Z: floats.Dot(m, xs[2]),
	}
	s.CenterOfMass = r3.Scale(1/s.Mass, com)
	s.KineticEnergy = 0.5 * floats.Dot(m, v2)
	return s
}

// LevelMasses returns the total mass held by each pyramid level.
func LevelMasses(levels []*octree.Level) []float64 {
	out := make([]float64, len(levels))
	for i, l := range levels {
		out[i] = l.TotalMass()
	}
	return out
}

// MassConserved returns true if every level's mass matches level 0 to
// within the relative tolerance tol.
func MassConserved(levels []*octree.Level, tol float64) bool {
	ms := LevelMasses(levels)
	for i := 1; i < len(ms); i++ {
		if !scalar.EqualWithinAbsOrRel(ms[i], ms[0], tol, tol) {
			return false
		}
	}
	return true
}

// Drift compares two summaries of the same system.
type Drift struct {
	Step         int     `json:"step"`
	CenterOfMass float64 `json:"centerOfMass"`
	Momentum     float64 `json:"momentum"`
	Mass         float64 `json:"mass"`
}

// Compare returns how far now has drifted from start.
func Compare(step int, start, now Summary) Drift {
	return Drift{
		Step:         step,
		CenterOfMass: r3.Norm(r3.Sub(now.CenterOfMass, start.CenterOfMass)),
		Momentum:     r3.Norm(r3.Sub(now.Momentum, start.Momentum)),
		Mass:         now.Mass - start.Mass,
	}
}
