package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// PadFraction is the fraction of each axis' extent added on both sides
	// of freshly reduced bounds.
	PadFraction = 0.01
	// MinPad is the smallest padding applied along any axis.
	MinPad = 1e-3
)

// DefaultBounds returns the world bounds used before the first reduction.
func DefaultBounds() r3.Box {
	return r3.Box{
		Min: r3.Vec{X: -4, Y: -4, Z: -4},
		Max: r3.Vec{X: 4, Y: 4, Z: 4},
	}
}

// ValidBounds returns true if b is finite and has positive extent along
// every axis.
func ValidBounds(b r3.Box) bool {
	lo, hi := vecArr(b.Min), vecArr(b.Max)
	for k := 0; k < 3; k++ {
		if !finite(lo[k]) || !finite(hi[k]) || hi[k] <= lo[k] {
			return false
		}
	}
	return true
}

// Pad widens b by PadFraction of its extent along each axis, but by at
// least MinPad.
func Pad(b r3.Box) r3.Box {
	lo, hi := vecArr(b.Min), vecArr(b.Max)
	for k := 0; k < 3; k++ {
		pad := (hi[k] - lo[k]) * PadFraction
		if pad < MinPad {
			pad = MinPad
		}
		lo[k] -= pad
		hi[k] += pad
	}
	return r3.Box{Min: arrVec(lo), Max: arrVec(hi)}
}

// CellOf returns the cell containing p in a grid of n cells per axis
// spanning b. ok is false if p lies outside b or is not finite.
func CellOf(b r3.Box, n int, p r3.Vec) (c [3]int, ok bool) {
	lo, hi, x := vecArr(b.Min), vecArr(b.Max), vecArr(p)
	for k := 0; k < 3; k++ {
		u := (x[k] - lo[k]) / (hi[k] - lo[k])
		if !(u >= 0 && u < 1) {
			return c, false
		}
		c[k] = int(u * float64(n))
		if c[k] >= n {
			return c, false
		}
	}
	return c, true
}

// ClampedCellOf is CellOf, except that points outside of b are assigned to
// the nearest boundary cell.
func ClampedCellOf(b r3.Box, n int, p r3.Vec) [3]int {
	lo, hi, x := vecArr(b.Min), vecArr(b.Max), vecArr(p)
	var c [3]int
	for k := 0; k < 3; k++ {
		u := (x[k] - lo[k]) / (hi[k] - lo[k]) * float64(n)
		switch {
		case !(u >= 0):
			c[k] = 0
		case u >= float64(n):
			c[k] = n - 1
		default:
			c[k] = int(u)
		}
	}
	return c
}

// CellEdges returns the edge lengths of a single cell in a grid of n cells
// per axis spanning b.
func CellEdges(b r3.Box, n int) r3.Vec {
	return r3.Scale(1/float64(n), r3.Sub(b.Max, b.Min))
}

// CellSize returns the longest edge of a cell in a grid of n cells per axis
// spanning b.
func CellSize(b r3.Box, n int) float64 {
	e := CellEdges(b, n)
	return math.Max(e.X, math.Max(e.Y, e.Z))
}

// Aspect returns the ratio of the longest to the shortest edge of b, or 1
// if b is not valid.
func Aspect(b r3.Box) float64 {
	if !ValidBounds(b) {
		return 1
	}
	e := r3.Sub(b.Max, b.Min)
	lo := math.Min(e.X, math.Min(e.Y, e.Z))
	hi := math.Max(e.X, math.Max(e.Y, e.Z))
	return hi / lo
}

// CellBox returns the box covered by cell c.
func CellBox(b r3.Box, edges r3.Vec, c [3]int) r3.Box {
	min := r3.Vec{
		X: b.Min.X + float64(c[0])*edges.X,
		Y: b.Min.Y + float64(c[1])*edges.Y,
		Z: b.Min.Z + float64(c[2])*edges.Z,
	}
	return r3.Box{Min: min, Max: r3.Add(min, edges)}
}

// NearFar returns the distances from p to the nearest and the farthest
// points of box.
func NearFar(box r3.Box, p r3.Vec) (near, far float64) {
	lo, hi, x := vecArr(box.Min), vecArr(box.Max), vecArr(p)
	var n2, f2 float64
	for k := 0; k < 3; k++ {
		var dn float64
		if x[k] < lo[k] {
			dn = lo[k] - x[k]
		} else if x[k] > hi[k] {
			dn = x[k] - hi[k]
		}
		df := math.Max(math.Abs(x[k]-lo[k]), math.Abs(x[k]-hi[k]))
		n2 += dn * dn
		f2 += df * df
	}
	return math.Sqrt(n2), math.Sqrt(f2)
}

// Contains returns true if p is inside the half-open box b.
func Contains(b r3.Box, p r3.Vec) bool {
	return p.X >= b.Min.X && p.X < b.Max.X &&
		p.Y >= b.Min.Y && p.Y < b.Max.Y &&
		p.Z >= b.Min.Z && p.Z < b.Max.Z
}

// FiniteVec returns true if every component of v is finite.
func FiniteVec(v r3.Vec) bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

func vecArr(v r3.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func arrVec(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }
