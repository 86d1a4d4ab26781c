/*package traversal evaluates the gravitational acceleration on every
particle by walking the moment pyramid from its coarsest level down to
level 0.

Every cell of the coarsest level is visited. Below it, only cells within a
Chebyshev window around the particle's own cell are scanned, and a scanned
cell is visited only if its parent was opened. A visited cell is accepted
whole when it is far enough away. Otherwise it is opened: the children
which the next level will visit are subtracted from it, and whatever mass
is left over (the residual) is applied at this level, so that every cell's
mass is counted exactly once for any window size. At level 0 every visited
cell is applied whole, except the particle's own cell, which first has the
particle removed from it.
*/
package traversal

import (
	"fmt"
	"math"

	"github.com/oyin-bo/three-g-sub002/compute"
	"github.com/oyin-bo/three-g-sub002/geom"
	"github.com/oyin-bo/three-g-sub002/octree"
	"github.com/oyin-bo/three-g-sub002/particle"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// Residuals lighter than this are dropped.
	negligibleMass = 1e-12
	// Residuals lighter than this fraction of their cell are dropped.
	negligibleFraction = 1e-9
	// Same, for pyramids accumulated at float32 precision.
	reducedFraction = 1e-6
)

// Stats counts how cells were treated during the last Run, summed over
// all particles.
type Stats struct {
	// Accepted cells were applied whole.
	Accepted int64
	// Near cells were opened because even their farthest point failed the
	// acceptance test. Straddling cells were opened with a farthest point
	// that passes it.
	Near, Straddling int64
	// Rejected cells were opened and fully represented by their children.
	Rejected int64
	// Residual cells were opened and applied with their children removed.
	Residual int64
}

func (s *Stats) add(o *Stats) {
	s.Accepted += o.Accepted
	s.Near += o.Near
	s.Straddling += o.Straddling
	s.Rejected += o.Rejected
	s.Residual += o.Residual
}

// Traversal computes accelerations from a pyramid.
type Traversal struct {
	ctx    *compute.Context
	n      int
	params Params
	radius int
	law    law
	frac   float64

	res     []int
	forces  *compute.Buffer
	owned   bool
	scratch []scratch
	stats   Stats
	closed  bool
}

type scratch struct {
	own     [][3]int
	win     []geom.Grid
	opened  [][]bool
	stats   Stats
	// applied is the mass applied by the last walk.
	applied float64
}

// New creates a Traversal for n particles over a pyramid with the given
// geometry. Accelerations are written to forces, four values per particle
// with the last unused.
func New(
	ctx *compute.Context, n int, specs []octree.LevelSpec,
	p Params, forces compute.Slot,
) (*Traversal, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	} else if n <= 0 {
		return nil, fmt.Errorf(
			"%w: Need a positive particle count, got %d.", compute.ErrConfig, n,
		)
	} else if len(specs) == 0 {
		return nil, fmt.Errorf("%w: Pyramid has no levels.", compute.ErrConfig)
	}

	t := &Traversal{
		ctx: ctx, n: n, params: p, radius: p.Radius(),
		law:  law{g: p.G, eps2: p.Softening * p.Softening, quadrupole: p.Quadrupole},
		frac: negligibleFraction,
	}
	if !ctx.Capabilities().FloatBlend {
		t.frac = reducedFraction
	}

	t.res = make([]int, len(specs))
	for i := range specs {
		t.res[i] = specs[i].Res
	}

	var err error
	t.forces, t.owned, err = forces.Resolve(ctx, "forces", n*particle.Stride)
	if err != nil {
		return nil, err
	}

	t.scratch = make([]scratch, ctx.Workers())
	for i := range t.scratch {
		t.scratch[i] = t.newScratch()
	}

	t.checkRadius(1)
	return t, nil
}

// checkRadius warns if some window can miss children of an opened cell
// when cell edges have the given aspect ratio.
func (t *Traversal) checkRadius(aspect float64) {
	if !t.approximate(aspect) {
		return
	}
	t.ctx.Warn("traversal.radius",
		"Search radius %d is below %d for Theta = %g and cell aspect %.3g; "+
			"children of opened cells outside the window are applied as "+
			"residuals.",
		t.radius, SufficientRadius(t.params.Theta, aspect), t.params.Theta, aspect,
	)
}

// approximate returns true if some window can miss children of an opened
// cell.
func (t *Traversal) approximate(aspect float64) bool {
	if t.radius >= SufficientRadius(t.params.Theta, aspect) {
		return false
	}
	for l := 0; l < len(t.res)-1; l++ {
		if t.res[l] > t.radius+1 {
			return true
		}
	}
	return false
}

func (t *Traversal) newScratch() scratch {
	levels := len(t.res)
	s := scratch{
		own:    make([][3]int, levels),
		win:    make([]geom.Grid, levels),
		opened: make([][]bool, levels),
	}
	side := 2*t.radius + 1
	for l := range s.opened {
		n := t.res[l]
		size := n * n * n
		if l < levels-1 && side < n {
			size = side * side * side
		}
		s.opened[l] = make([]bool, size)
	}
	return s
}

// Radius returns the search radius in cells.
func (t *Traversal) Radius() int { return t.radius }

// Forces returns the acceleration buffer.
func (t *Traversal) Forces() *compute.Buffer { return t.forces }

// Stats returns the cell counts of the last Run.
func (t *Traversal) Stats() Stats { return t.stats }

// Run computes the acceleration of every particle. Invalid particles get
// zero acceleration.
func (t *Traversal) Run(
	positions *compute.Buffer, levels []*octree.Level, bounds r3.Box,
) error {
	if t.closed {
		return compute.ErrClosed
	}
	if err := t.check(positions, levels); err != nil {
		return err
	}
	t.checkRadius(geom.Aspect(bounds))

	for i := range t.scratch {
		t.scratch[i].stats = Stats{}
	}

	pos := positions.Data
	res0 := levels[0].Res
	err := t.ctx.WithBlend(compute.BlendReplace, func() error {
		w := t.ctx.Writer(t.forces)
		return t.ctx.Dispatch(t.n, func(worker, lo, hi int) {
			s := &t.scratch[worker]
			for i := lo; i < hi; i++ {
				var a r3.Vec
				if particle.Valid(pos, i) {
					p := particle.Position(pos, i)
					var self *octree.Moments
					if _, ok := geom.CellOf(bounds, res0, p); ok {
						m := octree.PointMoments(p.X, p.Y, p.Z, particle.Mass(pos, i))
						self = &m
					}
					a = t.walk(s, levels, bounds, p, self)
				}

				j := i * particle.Stride
				w.Write(j, a.X)
				w.Write(j+1, a.Y)
				w.Write(j+2, a.Z)
				w.Write(j+3, 0)
			}
		})
	})
	if err != nil {
		return err
	}

	t.stats = Stats{}
	for i := range t.scratch {
		t.stats.add(&t.scratch[i].stats)
	}
	return nil
}

func (t *Traversal) check(positions *compute.Buffer, levels []*octree.Level) error {
	if positions == nil || positions.Data == nil {
		return fmt.Errorf(
			"%w: traversal has no position buffer", compute.ErrPrecondition,
		)
	} else if positions.Len() < t.n*particle.Stride {
		return fmt.Errorf(
			"%w: position buffer holds %d values, need %d",
			compute.ErrPrecondition, positions.Len(), t.n*particle.Stride,
		)
	} else if len(levels) != len(t.res) {
		return fmt.Errorf(
			"%w: traversal was wired to %d levels, got %d",
			compute.ErrPrecondition, len(t.res), len(levels),
		)
	}

	for l, lv := range levels {
		if !lv.Bound() {
			return fmt.Errorf(
				"%w: moments of level %d are not bound",
				compute.ErrPrecondition, l,
			)
		} else if lv.Res != t.res[l] {
			return fmt.Errorf(
				"%w: level %d has resolution %d, expected %d",
				compute.ErrPrecondition, l, lv.Res, t.res[l],
			)
		} else if t.params.Quadrupole && !lv.Quadrupole() {
			return fmt.Errorf(
				"%w: level %d has no second order moments",
				compute.ErrPrecondition, l,
			)
		}
	}
	return nil
}

// walk returns the acceleration at p. self holds the moments p added to
// its own level 0 cell, or is nil if p was not aggregated.
func (t *Traversal) walk(
	s *scratch, levels []*octree.Level, bounds r3.Box,
	p r3.Vec, self *octree.Moments,
) r3.Vec {
	top := len(levels) - 1

	s.own[0] = geom.ClampedCellOf(bounds, levels[0].Res, p)
	for l := 1; l <= top; l++ {
		for k := 0; k < 3; k++ {
			s.own[l][k] = octree.ParentIndex(s.own[l-1][k], levels[l].Res)
		}
	}
	for l := 0; l <= top; l++ {
		n := levels[l].Res
		if l == top {
			s.win[l].Init([3]int{}, [3]int{n, n, n})
		} else {
			s.win[l].InitWindow(s.own[l], t.radius, n)
		}
	}

	s.applied = 0
	var acc r3.Vec
	for l := top; l >= 0; l-- {
		lv, win, opened := levels[l], &s.win[l], s.opened[l]
		edges := geom.CellEdges(bounds, lv.Res)
		size := geom.CellSize(bounds, lv.Res)

		for idx := 0; idx < win.Volume; idx++ {
			opened[idx] = false
			x, y, z := win.Coords(idx)
			c := [3]int{x, y, z}
			if l < top && !parentOpened(s, levels, l, c) {
				continue
			}

			addr := lv.Addr(c)
			if !lv.Occupied(addr) {
				continue
			}
			m := lv.Load(addr)
			own := c == s.own[l]

			if l == 0 {
				if own && self != nil {
					whole := m.Mass()
					m.Sub(self)
					if t.negligible(m.Mass(), whole) {
						continue
					}
					s.stats.Residual++
				} else {
					if !(m.Mass() > negligibleMass) {
						continue
					}
					s.stats.Accepted++
				}
				s.applied += m.Mass()
				acc = r3.Add(acc, t.law.accel(p, &m))
				continue
			}

			if !(m.Mass() > negligibleMass) {
				continue
			}

			near, far := geom.NearFar(geom.CellBox(bounds, edges, c), p)
			if !own && size < t.params.Theta*near {
				s.stats.Accepted++
				s.applied += m.Mass()
				acc = r3.Add(acc, t.law.accel(p, &m))
				continue
			}

			if t.params.Theta*far <= size {
				s.stats.Near++
			} else {
				s.stats.Straddling++
			}
			opened[idx] = true

			whole := m.Mass()
			if all := subtractVisited(s, levels, l, c, &m); all {
				s.stats.Rejected++
				continue
			}
			if t.negligible(m.Mass(), whole) {
				continue
			}
			s.stats.Residual++
			s.applied += m.Mass()
			acc = r3.Add(acc, t.law.accel(p, &m))
		}
	}

	return acc
}

func (t *Traversal) negligible(mass, whole float64) bool {
	return !(mass > math.Max(negligibleMass, t.frac*whole))
}

// parentOpened returns true if the parent of cell c at level l was
// visited and opened.
func parentOpened(s *scratch, levels []*octree.Level, l int, c [3]int) bool {
	pr := levels[l+1].Res
	idx, ok := s.win[l+1].IdxCheck(
		octree.ParentIndex(c[0], pr),
		octree.ParentIndex(c[1], pr),
		octree.ParentIndex(c[2], pr),
	)
	return ok && s.opened[l+1][idx]
}

// subtractVisited removes from m the children of cell c which lie in the
// next level's window. It returns true if every child does.
func subtractVisited(
	s *scratch, levels []*octree.Level, l int, c [3]int, m *octree.Moments,
) bool {
	child, win, pr := levels[l-1], &s.win[l-1], levels[l].Res
	x0, x1 := octree.ChildRange(c[0], child.Res, pr)
	y0, y1 := octree.ChildRange(c[1], child.Res, pr)
	z0, z1 := octree.ChildRange(c[2], child.Res, pr)

	all := true
	for z := z0; z < z1; z++ {
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				if !win.BoundsCheck(x, y, z) {
					all = false
					continue
				}
				addr := child.Layout.Addr(x, y, z)
				if !child.Occupied(addr) {
					continue
				}
				cm := child.Load(addr)
				m.Sub(&cm)
			}
		}
	}
	return all
}

// Close frees the force buffer if the Traversal owns it. Closing twice is
// a no-op.
func (t *Traversal) Close() {
	if t.closed {
		return
	}
	if t.owned {
		t.ctx.Free(t.forces)
	}
	t.closed = true
}
