package octree

import (
	"fmt"

	"github.com/oyin-bo/three-g-sub002/compute"
)

// Builder produces one coarser level by summing the cells of the level
// below it. Every parent cell is written by exactly one worker.
type Builder struct {
	ctx      *compute.Context
	childRes int
	level    *Level
	closed   bool
}

// NewBuilder creates a Builder for the level at index, whose child has
// childRes cells per axis.
func NewBuilder(
	ctx *compute.Context, index, childRes int, spec LevelSpec,
	quadrupole bool, t Targets,
) (*Builder, error) {
	if index <= 0 {
		return nil, fmt.Errorf(
			"%w: Pyramid builders produce levels above 0, got level %d.",
			compute.ErrConfig, index,
		)
	} else if childRes <= 0 || spec.Res != ParentRes(childRes) {
		return nil, fmt.Errorf(
			"%w: Level %d has resolution %d, but its child has %d.",
			compute.ErrConfig, index, spec.Res, childRes,
		)
	}

	l, err := newLevel(ctx, index, spec, quadrupole, t)
	if err != nil {
		return nil, err
	}
	return &Builder{ctx: ctx, childRes: childRes, level: l}, nil
}

// Level returns the level the Builder writes.
func (b *Builder) Level() *Level { return b.level }

// Run sums child into the Builder's level.
func (b *Builder) Run(child *Level) error {
	if b.closed {
		return compute.ErrClosed
	}
	parent := b.level
	if !child.Bound() {
		return fmt.Errorf(
			"%w: level %d has no child moments to reduce",
			compute.ErrPrecondition, parent.Index,
		)
	} else if child.Res != b.childRes ||
		child.Quadrupole() != parent.Quadrupole() {
		return fmt.Errorf(
			"%w: level %d was wired to a %d-cell child, got %d cells",
			compute.ErrPrecondition, parent.Index, b.childRes, child.Res,
		)
	}

	pn := parent.Res
	return b.ctx.WithBlend(compute.BlendReplace, func() error {
		w0 := b.ctx.Writer(parent.A0)
		var w1, w2, wOcc compute.Writer
		if parent.Quadrupole() {
			w1 = b.ctx.Writer(parent.A1)
			w2 = b.ctx.Writer(parent.A2)
			wOcc = b.ctx.Writer(parent.Occupancy)
		}

		return b.ctx.Dispatch(pn*pn*pn, func(_, lo, hi int) {
			for idx := lo; idx < hi; idx++ {
				px, py, pz := idx%pn, (idx/pn)%pn, idx/(pn*pn)
				sum, occupied := gatherChildren(child, [3]int{px, py, pz}, pn)

				addr := parent.Layout.Addr(px, py, pz)
				j := addr * Channels
				for k := 0; k < Channels; k++ {
					w0.Write(j+k, sum.A0[k])
				}
				if parent.Quadrupole() {
					for k := 0; k < Channels; k++ {
						w1.Write(j+k, sum.A1[k])
						w2.Write(j+k, sum.A2[k])
					}
					occ := 0.0
					if occupied {
						occ = 1
					}
					wOcc.Write(addr, occ)
				}
			}
		})
	})
}

func gatherChildren(child *Level, p [3]int, parentRes int) (Moments, bool) {
	var sum Moments
	occupied := false

	x0, x1 := ChildRange(p[0], child.Res, parentRes)
	y0, y1 := ChildRange(p[1], child.Res, parentRes)
	z0, z1 := ChildRange(p[2], child.Res, parentRes)

	for z := z0; z < z1; z++ {
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				addr := child.Layout.Addr(x, y, z)
				if child.Occupancy != nil && child.Occupancy.Data[addr] == 0 {
					continue
				}
				m := child.Load(addr)
				sum.Add(&m)
				occupied = true
			}
		}
	}
	if child.Occupancy == nil {
		occupied = sum.Mass() != 0
	}
	return sum, occupied
}

// Close frees the storage the Builder owns. Closing twice is a no-op.
func (b *Builder) Close() {
	if b.closed {
		return
	}
	b.level.free(b.ctx)
	b.closed = true
}
