package particle

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r3"
)

// plummerCutoff is the radius, in scale lengths, beyond which Plummer
// samples are redrawn.
const plummerCutoff = 10.0

// Uniform places n particles of equal mass uniformly inside a ball of the
// given radius around the origin, at rest.
func Uniform(n int, radius, mass float64, seed uint64) []Particle {
	gen := rand.New(rand.NewSource(seed))
	ps := make([]Particle, n)
	for i := range ps {
		r := radius * math.Cbrt(gen.Float64())
		ps[i] = Particle{Pos: r3.Scale(r, direction(gen)), Mass: mass}
	}
	return ps
}

// Plummer samples n particles from a Plummer sphere with scale length a and
// total mass totalMass in equilibrium under gravitational constant g. The
// result has zero total momentum.
func Plummer(n int, a, totalMass, g float64, seed uint64) []Particle {
	gen := rand.New(rand.NewSource(seed))
	ps := make([]Particle, n)
	m := totalMass / float64(n)
	vScale := math.Sqrt(g * totalMass / a)

	for i := range ps {
		var r float64
		for {
			u := gen.Float64()
			if u == 0 {
				continue
			}
			r = 1 / math.Sqrt(math.Pow(u, -2.0/3)-1)
			if r < plummerCutoff {
				break
			}
		}

		// Rejection sampling of q = v / v_esc from q^2 (1 - q^2)^3.5.
		var q float64
		for {
			q = gen.Float64()
			if 0.1*gen.Float64() < q*q*math.Pow(1-q*q, 3.5) {
				break
			}
		}
		vEsc := math.Sqrt2 * math.Pow(1+r*r, -0.25)

		ps[i] = Particle{
			Pos:  r3.Scale(r*a, direction(gen)),
			Vel:  r3.Scale(q*vEsc*vScale, direction(gen)),
			Mass: m,
		}
	}

	ZeroMomentum(ps)
	return ps
}

// ZeroMomentum shifts all velocities so that total momentum vanishes.
func ZeroMomentum(ps []Particle) {
	var p r3.Vec
	mTot := 0.0
	for i := range ps {
		p = r3.Add(p, r3.Scale(ps[i].Mass, ps[i].Vel))
		mTot += ps[i].Mass
	}
	if mTot <= 0 {
		return
	}
	dv := r3.Scale(1/mTot, p)
	for i := range ps {
		ps[i].Vel = r3.Sub(ps[i].Vel, dv)
	}
}

func direction(gen *rand.Rand) r3.Vec {
	for {
		v := r3.Vec{X: gen.NormFloat64(), Y: gen.NormFloat64(), Z: gen.NormFloat64()}
		if n := r3.Norm(v); n > 0 {
			return r3.Scale(1/n, v)
		}
	}
}
