/*package octree builds the moment pyramid: a stack of regular grids over the
world bounds, level 0 finest, where each coarser level halves the
resolution of the one below it and every cell holds the summed mass moments
of the particles inside it.

Each cell carries A0 = (Σmx, Σmy, Σmz, Σm). In quadrupole mode it also
carries A1 = (Σmx², Σmy², Σmz², Σmxy), A2 = (Σmxz, Σmyz, 0, 0) and an
occupancy flag.
*/
package octree

import (
	"fmt"

	"github.com/oyin-bo/three-g-sub002/compute"
	"github.com/oyin-bo/three-g-sub002/geom"
)

const (
	// MaxMonopoleLevels is the deepest pyramid supported in monopole mode.
	MaxMonopoleLevels = 8
	// MaxQuadrupoleLevels is the deepest pyramid supported in quadrupole
	// mode, where each cell is sampled through three moment channels.
	MaxQuadrupoleLevels = 4

	// Channels is the number of values per cell in each moment buffer.
	Channels = 4
)

// Layout names.
const (
	LinearLayout = "linear"
	AtlasLayout  = "atlas"
)

// NewLayout returns the named storage layout for a grid of n cells per
// axis.
func NewLayout(name string, n int) (geom.Layout, error) {
	switch name {
	case LinearLayout:
		return geom.Cube(n), nil
	case AtlasLayout, "":
		return geom.NewAtlas(n), nil
	}
	return nil, fmt.Errorf(
		"%w: Unrecognized layout '%s'. Must be '%s' or '%s'.",
		compute.ErrConfig, name, LinearLayout, AtlasLayout,
	)
}

// LevelSpec describes the geometry of one pyramid level.
type LevelSpec struct {
	Res    int
	Layout geom.Layout
}

// ParentRes returns the resolution of the level above one with res cells
// per axis.
func ParentRes(res int) int {
	if res/2 < 1 {
		return 1
	}
	return res / 2
}

// ParentIndex returns the parent coordinate of child coordinate i along
// one axis. When the child resolution is odd the last parent also takes
// the trailing child.
func ParentIndex(i, parentRes int) int {
	p := i / 2
	if p > parentRes-1 {
		return parentRes - 1
	}
	return p
}

// ChildRange returns the half-open range of child coordinates along one
// axis which belong to parent coordinate p.
func ChildRange(p, childRes, parentRes int) (lo, hi int) {
	lo, hi = 2*p, 2*p+2
	if p == parentRes-1 || hi > childRes {
		hi = childRes
	}
	return lo, hi
}

// Plan returns the geometry of every level of a pyramid, finest first.
func Plan(
	baseRes, numLevels int, quadrupole bool, layout string,
) ([]LevelSpec, error) {
	max, mode := MaxMonopoleLevels, "monopole"
	if quadrupole {
		max, mode = MaxQuadrupoleLevels, "quadrupole"
	}

	switch {
	case baseRes <= 0:
		return nil, fmt.Errorf(
			"%w: Need to specify a positive base grid resolution, got %d.",
			compute.ErrConfig, baseRes,
		)
	case numLevels <= 0:
		return nil, fmt.Errorf(
			"%w: Need to specify a positive number of levels, got %d.",
			compute.ErrConfig, numLevels,
		)
	case numLevels > max:
		return nil, fmt.Errorf(
			"%w: %d levels requested, but %s pyramids support at most %d.",
			compute.ErrConfig, numLevels, mode, max,
		)
	}

	specs := make([]LevelSpec, numLevels)
	res := baseRes
	for i := range specs {
		l, err := NewLayout(layout, res)
		if err != nil {
			return nil, err
		}
		specs[i] = LevelSpec{Res: res, Layout: l}
		res = ParentRes(res)
	}
	return specs, nil
}

// Targets says where a level's buffers live. The zero value lets the
// level allocate all of them.
type Targets struct {
	A0, A1, A2, Occupancy compute.Slot
}

// Level is one tier of the pyramid.
type Level struct {
	Index int
	LevelSpec
	// A1, A2 and Occupancy are nil in monopole mode.
	A0, A1, A2, Occupancy *compute.Buffer

	owned []*compute.Buffer
}

func newLevel(
	ctx *compute.Context, index int, spec LevelSpec,
	quadrupole bool, t Targets,
) (*Level, error) {
	if spec.Res <= 0 || spec.Layout == nil || spec.Layout.Cells() != spec.Res {
		return nil, fmt.Errorf(
			"%w: Level %d has malformed geometry (resolution %d).",
			compute.ErrConfig, index, spec.Res,
		)
	}

	l := &Level{Index: index, LevelSpec: spec}
	n := spec.Layout.Len()

	bind := func(dst **compute.Buffer, s compute.Slot, name string, min int) error {
		buf, owned, err := s.Resolve(
			ctx, fmt.Sprintf("level.%d.%s", index, name), min,
		)
		if err != nil {
			return err
		}
		if owned {
			l.owned = append(l.owned, buf)
		}
		*dst = buf
		return nil
	}

	err := bind(&l.A0, t.A0, "a0", n*Channels)
	if err == nil && quadrupole {
		if err = bind(&l.A1, t.A1, "a1", n*Channels); err == nil {
			if err = bind(&l.A2, t.A2, "a2", n*Channels); err == nil {
				err = bind(&l.Occupancy, t.Occupancy, "occupancy", n)
			}
		}
	}
	if err != nil {
		l.free(ctx)
		return nil, err
	}
	return l, nil
}

// Quadrupole returns true if the level carries second order moments.
func (l *Level) Quadrupole() bool { return l.A1 != nil }

// Addr returns the cell index of c, which is the moment buffer offset
// divided by Channels.
func (l *Level) Addr(c [3]int) int { return l.Layout.Addr(c[0], c[1], c[2]) }

// Load returns the moments of the cell at address addr.
func (l *Level) Load(addr int) Moments {
	var m Moments
	j := addr * Channels
	copy(m.A0[:], l.A0.Data[j:j+Channels])
	if l.A1 != nil {
		copy(m.A1[:], l.A1.Data[j:j+Channels])
		copy(m.A2[:], l.A2.Data[j:j+Channels])
	}
	return m
}

// Occupied returns false only if the level tracks occupancy and the cell
// at addr is empty.
func (l *Level) Occupied(addr int) bool {
	return l.Occupancy == nil || l.Occupancy.Data[addr] != 0
}

// Bound returns true if every buffer the level needs is present.
func (l *Level) Bound() bool {
	if l == nil || l.A0 == nil || l.A0.Data == nil {
		return false
	}
	if l.A1 != nil {
		return l.A1.Data != nil && l.A2 != nil && l.A2.Data != nil &&
			l.Occupancy != nil && l.Occupancy.Data != nil
	}
	return true
}

// TotalMass sums the mass of every cell.
func (l *Level) TotalMass() float64 {
	sum := 0.0
	n := l.Res
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				sum += l.A0.Data[l.Layout.Addr(x, y, z)*Channels+3]
			}
		}
	}
	return sum
}

func (l *Level) free(ctx *compute.Context) {
	for _, b := range l.owned {
		ctx.Free(b)
	}
	l.owned = nil
}

// Moments are the accumulated moments of one cell.
type Moments struct {
	A0, A1, A2 [Channels]float64
}

// Mass returns the total mass.
func (m *Moments) Mass() float64 { return m.A0[3] }

// Add adds o to m.
func (m *Moments) Add(o *Moments) {
	for k := 0; k < Channels; k++ {
		m.A0[k] += o.A0[k]
		m.A1[k] += o.A1[k]
		m.A2[k] += o.A2[k]
	}
}

// Sub subtracts o from m.
func (m *Moments) Sub(o *Moments) {
	for k := 0; k < Channels; k++ {
		m.A0[k] -= o.A0[k]
		m.A1[k] -= o.A1[k]
		m.A2[k] -= o.A2[k]
	}
}

// PointMoments returns the moments of a single point mass.
func PointMoments(x, y, z, mass float64) Moments {
	return Moments{
		A0: [Channels]float64{mass * x, mass * y, mass * z, mass},
		A1: [Channels]float64{mass * x * x, mass * y * y, mass * z * z, mass * x * y},
		A2: [Channels]float64{mass * x * z, mass * y * z, 0, 0},
	}
}
