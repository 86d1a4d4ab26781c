package geom

// Layout maps the cell coordinates of a cubic grid onto a flat storage
// address.
type Layout interface {
	// Addr returns the storage address of the cell (x, y, z).
	Addr(x, y, z int) int
	// Len is the number of addressable slots, which may exceed Cells()^3
	// when the layout has padding.
	Len() int
	// Cells is the number of cells along one axis.
	Cells() int
}

// Grid provides an interface for reasoning over a 1D slice as if it were a
// 3D grid.
type Grid struct {
	CellBounds
	Length, Area, Volume int
	uBounds [3]int
}

// CellBounds represents a bounding box aligned to grid cells.
type CellBounds struct {
	Origin, Width [3]int
}

// NewGrid returns a new Grid instance.
func NewGrid(origin [3]int, width [3]int) *Grid {
	g := &Grid{}
	g.Init(origin, width)
	return g
}

// Cube returns a Grid spanning n cells along each axis, starting at the
// origin.
func Cube(n int) *Grid {
	return NewGrid([3]int{0, 0, 0}, [3]int{n, n, n})
}

// Init initializes a Grid instance.
func (g *Grid) Init(origin [3]int, width [3]int) {
	g.Origin = origin
	g.Width = width

	g.Length = width[0]
	g.Area = width[0] * width[1]
	g.Volume = width[0] * width[1] * width[2]

	for i := 0; i < 3; i++ {
		g.uBounds[i] = g.Origin[i] + g.Width[i]
	}
}

// InitWindow initializes g to the cells within Chebyshev distance r of c,
// clipped to a cube of n cells per axis.
func (g *Grid) InitWindow(c [3]int, r, n int) {
	var origin, width [3]int
	for k := 0; k < 3; k++ {
		lo, hi := c[k]-r, c[k]+r+1
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		if hi < lo {
			hi = lo
		}
		origin[k], width[k] = lo, hi-lo
	}
	g.Init(origin, width)
}

// Idx returns the grid index corresponding to a set of coordinates.
func (g *Grid) Idx(x, y, z int) int {
	return ((x - g.Origin[0]) + (y-g.Origin[1])*g.Length +
		(z-g.Origin[2])*g.Area)
}

// IdxCheck returns an index and true if the given coordinate are valid and
// false otherwise.
func (g *Grid) IdxCheck(x, y, z int) (idx int, ok bool) {
	if !g.BoundsCheck(x, y, z) {
		return -1, false
	}

	return g.Idx(x, y, z), true
}

// BoundsCheck returns true if the given coordinates are within the Grid and
// false otherwise.
func (g *Grid) BoundsCheck(x, y, z int) bool {
	return (g.Origin[0] <= x && g.Origin[1] <= y && g.Origin[2] <= z) &&
		(x < g.uBounds[0] && y < g.uBounds[1] &&
			z < g.uBounds[2])
}

// Coords returns the x, y, z coordinates of a point from its grid index.
func (g *Grid) Coords(idx int) (x, y, z int) {
	x = idx%g.Length + g.Origin[0]
	y = (idx%g.Area)/g.Length + g.Origin[1]
	z = idx/g.Area + g.Origin[2]
	return x, y, z
}

// Addr implements Layout. It is the same as Idx.
func (g *Grid) Addr(x, y, z int) int { return g.Idx(x, y, z) }

// Len implements Layout.
func (g *Grid) Len() int { return g.Volume }

// Cells implements Layout. It is only meaningful for cubic grids.
func (g *Grid) Cells() int { return g.Width[0] }

// Atlas lays the z-slices of a cubic grid side by side on a 2D sheet, the
// way a volume is packed into a texture.
type Atlas struct {
	n, perRow, rows int
	width, height   int
}

// NewAtlas returns the atlas layout for a grid with n cells per axis.
func NewAtlas(n int) *Atlas {
	perRow := 1
	for perRow*perRow < n {
		perRow++
	}
	rows := (n + perRow - 1) / perRow
	return &Atlas{
		n: n, perRow: perRow, rows: rows,
		width: n * perRow, height: n * rows,
	}
}

// Addr implements Layout.
func (a *Atlas) Addr(x, y, z int) int {
	tx := (z%a.perRow)*a.n + x
	ty := (z/a.perRow)*a.n + y
	return ty*a.width + tx
}

// Len implements Layout.
func (a *Atlas) Len() int { return a.width * a.height }

// Cells implements Layout.
func (a *Atlas) Cells() int { return a.n }

// Sheet returns the dimensions of the 2D sheet.
func (a *Atlas) Sheet() (width, height int) { return a.width, a.height }
