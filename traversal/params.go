package traversal

import (
	"fmt"
	"math"

	"github.com/oyin-bo/three-g-sub002/compute"
)

// Params control the acceptance test and the force law.
type Params struct {
	// Theta is the opening angle. A cell is accepted when its size is
	// smaller than Theta times its distance.
	Theta float64
	// G is the gravitational constant.
	G float64
	// Softening is added in quadrature to every separation.
	Softening float64
	// SearchRadius is the Chebyshev radius, in cells, scanned around the
	// particle's own cell below the coarsest level. Zero means
	// AutoRadius(Theta).
	SearchRadius int
	// Quadrupole adds the second order term of the multipole expansion.
	Quadrupole bool
}

// AutoRadius returns the default search radius for theta.
func AutoRadius(theta float64) int {
	return int(math.Ceil(1/theta)) + 1
}

// SufficientRadius returns the smallest search radius for which every
// child of an opened cell is guaranteed to be scanned at the next finer
// level. aspect is the ratio of the longest to the shortest cell edge and
// is 1 for cubes.
func SufficientRadius(theta, aspect float64) int {
	if aspect < 1 {
		aspect = 1
	}
	return 2*int(math.Ceil(aspect/theta)) + 1
}

// Radius returns the search radius which will be used.
func (p *Params) Radius() int {
	if p.SearchRadius > 0 {
		return p.SearchRadius
	}
	return AutoRadius(p.Theta)
}

// Validate returns an error if any parameter is out of range.
func (p *Params) Validate() error {
	switch {
	case !(p.Theta > 0) || math.IsInf(p.Theta, 0):
		return fmt.Errorf(
			"%w: Need to specify a positive, finite Theta, got %g.",
			compute.ErrConfig, p.Theta,
		)
	case !(p.G >= 0) || math.IsInf(p.G, 0):
		return fmt.Errorf(
			"%w: G must be a non-negative, finite number, got %g.",
			compute.ErrConfig, p.G,
		)
	case !(p.Softening >= 0) || math.IsInf(p.Softening, 0):
		return fmt.Errorf(
			"%w: Softening must be a non-negative, finite number, got %g.",
			compute.ErrConfig, p.Softening,
		)
	case p.SearchRadius < 0:
		return fmt.Errorf(
			"%w: SearchRadius must be non-negative, got %d.",
			compute.ErrConfig, p.SearchRadius,
		)
	}
	return nil
}
