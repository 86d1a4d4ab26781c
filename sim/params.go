package sim

import (
	"fmt"

	"github.com/oyin-bo/three-g-sub002/compute"
	"github.com/oyin-bo/three-g-sub002/geom"
	"github.com/oyin-bo/three-g-sub002/integrator"
	"github.com/oyin-bo/three-g-sub002/octree"
	"github.com/oyin-bo/three-g-sub002/traversal"
	"gonum.org/v1/gonum/spatial/r3"
)

// Params configures a Simulation.
type Params struct {
	Theta, Dt, G, Softening float64
	Damping                 float64
	MaxSpeed, MaxAccel      float64
	NumLevels, BaseRes      int
	BoundsInterval          int
	SearchRadius            int
	Layout                  string
	Quadrupole              bool

	// Bounds are the initial world bounds. If nil, DefaultBounds are used
	// and the first step reduces fresh bounds.
	Bounds *r3.Box
}

// DefaultParams returns the default configuration for the monopole or
// quadrupole engine.
func DefaultParams(quadrupole bool) Params {
	levels := 7
	if quadrupole {
		levels = 4
	}
	return Params{
		Theta:          0.5,
		Dt:             1.0 / 60,
		G:              3e-4,
		Softening:      0.2,
		Damping:        0,
		MaxSpeed:       2,
		MaxAccel:       1,
		NumLevels:      levels,
		BaseRes:        64,
		BoundsInterval: 90,
		SearchRadius:   0,
		Layout:         octree.AtlasLayout,
		Quadrupole:     quadrupole,
	}
}

func (p *Params) traversalParams() traversal.Params {
	return traversal.Params{
		Theta: p.Theta, G: p.G, Softening: p.Softening,
		SearchRadius: p.SearchRadius, Quadrupole: p.Quadrupole,
	}
}

func (p *Params) integratorParams() integrator.Params {
	return integrator.Params{
		Dt: p.Dt, Damping: p.Damping,
		MaxSpeed: p.MaxSpeed, MaxAccel: p.MaxAccel,
	}
}

// Validate returns an error wrapping compute.ErrConfig if any parameter is
// out of range.
func (p *Params) Validate() error {
	tp, ip := p.traversalParams(), p.integratorParams()
	if err := tp.Validate(); err != nil {
		return err
	} else if err := ip.Validate(); err != nil {
		return err
	} else if p.BoundsInterval <= 0 {
		return fmt.Errorf(
			"%w: Need to specify a positive BoundsInterval, got %d.",
			compute.ErrConfig, p.BoundsInterval,
		)
	} else if p.Bounds != nil && !geom.ValidBounds(*p.Bounds) {
		return fmt.Errorf(
			"%w: World bounds %v are degenerate.", compute.ErrConfig, *p.Bounds,
		)
	}
	_, err := octree.Plan(p.BaseRes, p.NumLevels, p.Quadrupole, p.Layout)
	return err
}
