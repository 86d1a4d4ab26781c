/*package bounds estimates the world bounding box of a particle buffer with a
hierarchical min/max reduction.

The particle buffer is viewed as a W x H sheet with W = ceil(sqrt(N)). Each
pass reduces 8 x 8 tiles of the current sheet into a single (min, max) pair,
so the sheet shrinks by a factor of 8 along each side until one pair is
left. Passes alternate between two intermediate buffers.
*/
package bounds

import (
	"fmt"
	"math"

	"github.com/oyin-bo/three-g-sub002/compute"
	"github.com/oyin-bo/three-g-sub002/geom"
	"github.com/oyin-bo/three-g-sub002/particle"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// Tile is the side length of the tiles reduced by each pass.
	Tile = 8
	// PairLen is the number of values in one (min, max) pair.
	PairLen = 6
)

// Reducer computes world bounds. It is the only writer of the bounds it
// holds.
type Reducer struct {
	ctx           *compute.Context
	n             int
	width, height int
	ping, pong    *compute.Buffer
	bounds        r3.Box
	passes        int
	closed        bool
}

// New creates a Reducer for n particles which starts from the given
// bounds.
func New(ctx *compute.Context, n int, initial r3.Box) (*Reducer, error) {
	if n <= 0 {
		return nil, fmt.Errorf(
			"%w: Need a positive particle count, got %d.", compute.ErrConfig, n,
		)
	} else if !geom.ValidBounds(initial) {
		return nil, fmt.Errorf(
			"%w: Initial bounds %v are degenerate.", compute.ErrConfig, initial,
		)
	}

	r := &Reducer{ctx: ctx, n: n, bounds: initial}
	r.width = int(math.Ceil(math.Sqrt(float64(n))))
	r.height = (n + r.width - 1) / r.width

	w1, h1 := tiles(r.width), tiles(r.height)
	w2, h2 := tiles(w1), tiles(h1)

	var err error
	if r.ping, err = ctx.Alloc("bounds.ping", w1*h1*PairLen); err != nil {
		return nil, err
	}
	if r.pong, err = ctx.Alloc("bounds.pong", w2*h2*PairLen); err != nil {
		ctx.Free(r.ping)
		return nil, err
	}
	return r, nil
}

func tiles(n int) int { return (n + Tile - 1) / Tile }

// Sheet returns the dimensions of the sheet the particles are viewed as.
func (r *Reducer) Sheet() (width, height int) { return r.width, r.height }

// Bounds returns the current bounds.
func (r *Reducer) Bounds() r3.Box { return r.bounds }

// Passes returns the number of tile passes used by the last Run.
func (r *Reducer) Passes() int { return r.passes }

// Run reduces the positions, reads the result back into readback (which
// must hold at least PairLen values and is owned by the caller) and
// replaces the bounds with the padded result. If no particle is valid the
// bounds are left unchanged and updated is false.
func (r *Reducer) Run(
	positions *compute.Buffer, readback []float64,
) (updated bool, err error) {
	if r.closed {
		return false, compute.ErrClosed
	}
	if positions == nil || positions.Data == nil {
		return false, fmt.Errorf(
			"%w: bounds reduction has no position buffer", compute.ErrPrecondition,
		)
	} else if positions.Len() < r.n*particle.Stride {
		return false, fmt.Errorf(
			"%w: position buffer holds %d values, need %d",
			compute.ErrPrecondition, positions.Len(), r.n*particle.Stride,
		)
	} else if len(readback) < PairLen {
		return false, fmt.Errorf(
			"%w: bounds read-back storage holds %d values, need %d",
			compute.ErrCapacity, len(readback), PairLen,
		)
	}

	var result *compute.Buffer
	err = r.ctx.WithBlend(compute.BlendReplace, func() error {
		var err error
		result, err = r.reduce(positions)
		return err
	})
	if err != nil {
		return false, err
	}

	if err = r.ctx.ReadBack(readback[:PairLen], result); err != nil {
		return false, err
	}

	lo := r3.Vec{X: readback[0], Y: readback[1], Z: readback[2]}
	hi := r3.Vec{X: readback[3], Y: readback[4], Z: readback[5]}
	if !(lo.X <= hi.X && lo.Y <= hi.Y && lo.Z <= hi.Z) ||
		!geom.FiniteVec(lo) || !geom.FiniteVec(hi) {
		return false, nil
	}

	r.bounds = geom.Pad(r3.Box{Min: lo, Max: hi})
	return true, nil
}

// reduce runs passes until the sheet is a single pair and returns the
// buffer holding it.
func (r *Reducer) reduce(positions *compute.Buffer) (*compute.Buffer, error) {
	srcW, srcH := r.width, r.height
	dstW, dstH := tiles(srcW), tiles(srcH)

	pos := positions.Data
	dst := r.ping
	err := r.ctx.Dispatch(dstW*dstH, r.pass(dst, dstW, srcW, srcH,
		func(i int) (lo, hi [3]float64, ok bool) {
			if i >= r.n || !particle.Valid(pos, i) {
				return lo, hi, false
			}
			j := i * particle.Stride
			lo = [3]float64{pos[j], pos[j+1], pos[j+2]}
			return lo, lo, true
		},
	))
	if err != nil {
		return nil, err
	}
	r.passes = 1

	for dstW > 1 || dstH > 1 {
		src := dst
		if src == r.ping {
			dst = r.pong
		} else {
			dst = r.ping
		}
		srcW, srcH = dstW, dstH
		dstW, dstH = tiles(srcW), tiles(srcH)

		data := src.Data
		err = r.ctx.Dispatch(dstW*dstH, r.pass(dst, dstW, srcW, srcH,
			func(i int) (lo, hi [3]float64, ok bool) {
				j := i * PairLen
				copy(lo[:], data[j:j+3])
				copy(hi[:], data[j+3:j+6])
				return lo, hi, lo[0] <= hi[0]
			},
		))
		if err != nil {
			return nil, err
		}
		r.passes++
	}

	return dst, nil
}

// pass returns a kernel reducing every Tile x Tile tile of a srcW x srcH
// sheet into one pair of dst. Tiles without valid elements are written as
// (+Inf, -Inf).
func (r *Reducer) pass(
	dst *compute.Buffer, dstW, srcW, srcH int,
	elem func(i int) (lo, hi [3]float64, ok bool),
) compute.Kernel {
	w := r.ctx.Writer(dst)
	return func(_, start, end int) {
		for t := start; t < end; t++ {
			tx, ty := t%dstW, t/dstW
			lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
			hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}

			for y := ty * Tile; y < (ty+1)*Tile && y < srcH; y++ {
				for x := tx * Tile; x < (tx+1)*Tile && x < srcW; x++ {
					elo, ehi, ok := elem(y*srcW + x)
					if !ok {
						continue
					}
					for k := 0; k < 3; k++ {
						lo[k] = math.Min(lo[k], elo[k])
						hi[k] = math.Max(hi[k], ehi[k])
					}
				}
			}

			j := t * PairLen
			for k := 0; k < 3; k++ {
				w.Write(j+k, lo[k])
				w.Write(j+3+k, hi[k])
			}
		}
	}
}

// Close frees the intermediate buffers. Closing twice is a no-op.
func (r *Reducer) Close() {
	if r.closed {
		return
	}
	r.ctx.Free(r.ping)
	r.ctx.Free(r.pong)
	r.closed = true
}
