package octree

import (
	"fmt"

	"github.com/oyin-bo/three-g-sub002/compute"
	"github.com/oyin-bo/three-g-sub002/geom"
	"github.com/oyin-bo/three-g-sub002/particle"
	"gonum.org/v1/gonum/spatial/r3"
)

// Aggregator scatters particle moments into level 0.
type Aggregator struct {
	ctx    *compute.Context
	n      int
	level  *Level
	closed bool
}

// NewAggregator creates an Aggregator for n particles which writes into a
// level with the given geometry.
func NewAggregator(
	ctx *compute.Context, n int, spec LevelSpec, quadrupole bool, t Targets,
) (*Aggregator, error) {
	if n <= 0 {
		return nil, fmt.Errorf(
			"%w: Need a positive particle count, got %d.", compute.ErrConfig, n,
		)
	}
	l, err := newLevel(ctx, 0, spec, quadrupole, t)
	if err != nil {
		return nil, err
	}
	return &Aggregator{ctx: ctx, n: n, level: l}, nil
}

// Level returns the level the Aggregator writes.
func (a *Aggregator) Level() *Level { return a.level }

// Run clears level 0 and adds the moments of every valid particle inside
// bounds to the cell containing it. Particles outside of bounds are
// dropped.
func (a *Aggregator) Run(positions *compute.Buffer, bounds r3.Box) error {
	if a.closed {
		return compute.ErrClosed
	}
	if positions == nil || positions.Data == nil {
		return fmt.Errorf(
			"%w: aggregation has no position buffer", compute.ErrPrecondition,
		)
	} else if positions.Len() < a.n*particle.Stride {
		return fmt.Errorf(
			"%w: position buffer holds %d values, need %d",
			compute.ErrPrecondition, positions.Len(), a.n*particle.Stride,
		)
	} else if !a.level.Bound() {
		return fmt.Errorf(
			"%w: level 0 storage is not bound", compute.ErrPrecondition,
		)
	}

	l := a.level
	if err := clearLevel(a.ctx, l); err != nil {
		return err
	}

	caps := a.ctx.Capabilities()
	if !caps.FloatBlend {
		a.ctx.Warn("aggregate.blend",
			"Backend '%s' cannot blend at full float precision; cell "+
				"moments are accumulated at float32 precision.",
			a.ctx.Backend().Name(),
		)
	}

	pos := positions.Data
	return a.ctx.WithBlend(compute.BlendAdd, func() error {
		w0 := a.ctx.Writer(l.A0)
		var w1, w2 compute.Writer
		if l.Quadrupole() {
			w1, w2 = a.ctx.Writer(l.A1), a.ctx.Writer(l.A2)
		}

		return a.ctx.Dispatch(a.n, func(_, lo, hi int) {
			for i := lo; i < hi; i++ {
				if !particle.Valid(pos, i) {
					continue
				}
				p := particle.Position(pos, i)
				c, ok := geom.CellOf(bounds, l.Res, p)
				if !ok {
					continue
				}

				addr := l.Addr(c)
				j := addr * Channels
				m := PointMoments(p.X, p.Y, p.Z, particle.Mass(pos, i))
				for k := 0; k < Channels; k++ {
					w0.Write(j+k, m.A0[k])
				}
				if l.Quadrupole() {
					for k := 0; k < Channels; k++ {
						w1.Write(j+k, m.A1[k])
					}
					w2.Write(j, m.A2[0])
					w2.Write(j+1, m.A2[1])
					l.Occupancy.Flag(addr)
				}
			}
		})
	})
}

// Close frees the storage the Aggregator owns. Closing twice is a no-op.
func (a *Aggregator) Close() {
	if a.closed {
		return
	}
	a.level.free(a.ctx)
	a.closed = true
}

func clearLevel(ctx *compute.Context, l *Level) error {
	bufs := []*compute.Buffer{l.A0}
	if l.Quadrupole() {
		bufs = append(bufs, l.A1, l.A2, l.Occupancy)
	}
	for _, b := range bufs {
		data := b.Data
		err := ctx.Dispatch(len(data), func(_, lo, hi int) {
			for i := lo; i < hi; i++ {
				data[i] = 0
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}
