/*package particle defines the flat, order-stable particle buffers which the
gravity pipeline reads and writes.

Positions are stored as (x, y, z, mass) and velocities as (vx, vy, vz, aux),
four values per particle. aux is never read by the physics and is carried
through every step unchanged.
*/
package particle

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Stride is the number of float64 values per particle in every buffer.
const Stride = 4

// Particle is the unpacked form of a single particle.
type Particle struct {
	Pos, Vel  r3.Vec
	Mass, Aux float64
}

// Count returns the number of particles in a stride-4 buffer.
func Count(buf []float64) int { return len(buf) / Stride }

// Position returns the position of particle i.
func Position(pos []float64, i int) r3.Vec {
	j := i * Stride
	return r3.Vec{X: pos[j], Y: pos[j+1], Z: pos[j+2]}
}

// Mass returns the mass of particle i.
func Mass(pos []float64, i int) float64 { return pos[i*Stride+3] }

// Velocity returns the velocity of particle i.
func Velocity(vel []float64, i int) r3.Vec {
	j := i * Stride
	return r3.Vec{X: vel[j], Y: vel[j+1], Z: vel[j+2]}
}

// Valid returns true if particle i takes part in the physics: its
// position must be finite and its mass finite and positive.
func Valid(pos []float64, i int) bool {
	j := i * Stride
	m := pos[j+3]
	return finite(pos[j]) && finite(pos[j+1]) && finite(pos[j+2]) &&
		finite(m) && m > 0
}

// Set writes a 3-vector and a fourth channel into slot i of buf.
func Set(buf []float64, i int, v r3.Vec, w float64) {
	j := i * Stride
	buf[j], buf[j+1], buf[j+2], buf[j+3] = v.X, v.Y, v.Z, w
}

// Pack flattens particles into a position and a velocity buffer.
func Pack(ps []Particle) (pos, vel []float64) {
	pos = make([]float64, len(ps)*Stride)
	vel = make([]float64, len(ps)*Stride)
	for i := range ps {
		Set(pos, i, ps[i].Pos, ps[i].Mass)
		Set(vel, i, ps[i].Vel, ps[i].Aux)
	}
	return pos, vel
}

// Unpack is the inverse of Pack.
func Unpack(pos, vel []float64) ([]Particle, error) {
	if err := CheckBuffers(pos, vel); err != nil {
		return nil, err
	}
	ps := make([]Particle, Count(pos))
	for i := range ps {
		ps[i] = Particle{
			Pos: Position(pos, i), Mass: Mass(pos, i),
			Vel: Velocity(vel, i), Aux: vel[i*Stride+3],
		}
	}
	return ps, nil
}

// CheckBuffers returns an error if pos and vel do not describe the same
// number of particles.
func CheckBuffers(pos, vel []float64) error {
	if len(pos)%Stride != 0 {
		return fmt.Errorf(
			"Position buffer length %d is not a multiple of %d.", len(pos), Stride,
		)
	} else if len(vel) != len(pos) {
		return fmt.Errorf(
			"Position buffer holds %d values, but velocity buffer holds %d.",
			len(pos), len(vel),
		)
	}
	return nil
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }
