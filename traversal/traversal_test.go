package traversal

import (
	"errors"
	"math"
	"testing"

	"github.com/oyin-bo/three-g-sub002/compute"
	"github.com/oyin-bo/three-g-sub002/geom"
	"github.com/oyin-bo/three-g-sub002/octree"
	"github.com/oyin-bo/three-g-sub002/particle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/barneshut"
	"gonum.org/v1/gonum/spatial/r3"
)

type system struct {
	ctx     *compute.Context
	pos     *compute.Buffer
	pyramid *octree.Pyramid
	tr      *Traversal
	bounds  r3.Box
}

func newSystem(
	t *testing.T, ps []particle.Particle, bounds r3.Box,
	base, levels int, p Params,
) *system {
	ctx, err := compute.NewContext(compute.NewCPU(4))
	require.NoError(t, err)
	t.Cleanup(func() { ctx.Close() })

	pos, _ := particle.Pack(ps)
	buf, err := ctx.Alloc("positions", len(pos))
	require.NoError(t, err)
	copy(buf.Data, pos)

	specs, err := octree.Plan(base, levels, p.Quadrupole, octree.AtlasLayout)
	require.NoError(t, err)
	pyr, err := octree.NewPyramid(ctx, len(ps), specs, p.Quadrupole, nil)
	require.NoError(t, err)
	tr, err := New(ctx, len(ps), specs, p, compute.Owned(0))
	require.NoError(t, err)

	return &system{ctx: ctx, pos: buf, pyramid: pyr, tr: tr, bounds: bounds}
}

func (s *system) run(t *testing.T) []r3.Vec {
	require.NoError(t, s.pyramid.Build(s.pos, s.bounds))
	require.NoError(t, s.tr.Run(s.pos, s.pyramid.Levels(), s.bounds))

	f := s.tr.Forces().Data
	out := make([]r3.Vec, len(f)/particle.Stride)
	for i := range out {
		out[i] = particle.Position(f, i)
		assert.Equal(t, 0.0, f[i*particle.Stride+3])
	}
	return out
}

func pair(d float64) []particle.Particle {
	return []particle.Particle{
		{Pos: r3.Vec{X: -d / 2}, Mass: 1},
		{Pos: r3.Vec{X: d / 2}, Mass: 1},
	}
}

func TestZeroField(t *testing.T) {
	ps := particle.Uniform(50, 3, 1, 4)
	s := newSystem(t, ps, geom.DefaultBounds(), 16, 5,
		Params{Theta: 0.5, G: 1, Softening: 0.1})

	// The pyramid is never built, so every moment is zero.
	require.NoError(t, s.tr.Run(s.pos, s.pyramid.Levels(), s.bounds))
	f := s.tr.Forces().Data
	for i := range f {
		assert.InDelta(t, 0, f[i], 1e-5)
	}
}

func TestNewtonsThirdLaw(t *testing.T) {
	for _, quad := range []bool{false, true} {
		levels := 7
		if quad {
			levels = 4
		}
		s := newSystem(t, pair(2), geom.DefaultBounds(), 64, levels,
			Params{Theta: 0.5, G: 1, Softening: 0.1, Quadrupole: quad})
		f := s.run(t)

		assert.True(t, f[0].X > 0)
		assert.True(t, f[1].X < 0)
		assert.InDelta(t, math.Abs(f[0].X), math.Abs(f[1].X), 1e-2)

		want := 2 / math.Pow(4.01, 1.5)
		assert.InDelta(t, want, f[0].X, 1e-9)
		assert.InDelta(t, 0, f[0].Y, 1e-12)
		assert.InDelta(t, 0, f[0].Z, 1e-12)
	}
}

func TestLinearGScaling(t *testing.T) {
	ps := particle.Uniform(100, 3, 0.1, 8)
	mag := func(g float64) float64 {
		s := newSystem(t, ps, geom.DefaultBounds(), 32, 6,
			Params{Theta: 0.5, G: g, Softening: 0.2})
		return r3.Norm(s.run(t)[0])
	}

	hi, lo := mag(1.0), mag(0.1)
	require.True(t, lo > 0)
	assert.InDelta(t, 10, hi/lo, 5)
	assert.InDelta(t, 10, hi/lo, 1e-9)
}

func TestSofteningMonotonic(t *testing.T) {
	prev := math.Inf(1)
	for _, eps := range []float64{0.01, 0.05, 0.1, 0.2, 0.5} {
		s := newSystem(t, pair(0.5), geom.DefaultBounds(), 64, 7,
			Params{Theta: 0.5, G: 1, Softening: eps})
		mag := r3.Norm(s.run(t)[0])
		assert.True(t, mag < prev, "softening %g", eps)
		prev = mag
	}
}

func TestThetaSensitivity(t *testing.T) {
	gen := rand.New(rand.NewSource(9))
	ps := []particle.Particle{{Pos: r3.Vec{X: -2.1, Y: 0.3, Z: 0.1}, Mass: 0.01}}
	for i := 0; i < 300; i++ {
		p := r3.Vec{
			X: 0.5 + 3*gen.Float64(), Y: -1 + 1.5*gen.Float64(), Z: 2 * gen.Float64(),
		}
		ps = append(ps, particle.Particle{Pos: p, Mass: 0.01 + 0.05*gen.Float64()})
	}

	force := func(theta float64) r3.Vec {
		s := newSystem(t, ps, geom.DefaultBounds(), 16, 5,
			Params{Theta: theta, G: 1, Softening: 0.05})
		return s.run(t)[0]
	}

	fine, coarse := force(0.1), force(1.0)
	for _, f := range []r3.Vec{fine, coarse} {
		assert.True(t, geom.FiniteVec(f))
		assert.True(t, r3.Norm(f) > 0)
	}
	rel := r3.Norm(r3.Sub(fine, coarse)) / r3.Norm(fine)
	assert.True(t, rel > 1e-3, "relative difference %g", rel)
}

func TestInvalidParticles(t *testing.T) {
	ps := pair(2)
	ps = append(ps,
		particle.Particle{Pos: r3.Vec{X: math.NaN()}, Mass: 1},
		particle.Particle{Pos: r3.Vec{Y: 1}, Mass: 0},
		particle.Particle{Pos: r3.Vec{Y: -1}, Mass: -3},
	)
	s := newSystem(t, ps, geom.DefaultBounds(), 16, 5,
		Params{Theta: 0.5, G: 1, Softening: 0.1})
	f := s.run(t)

	for i := 2; i < len(f); i++ {
		assert.Equal(t, r3.Vec{}, f[i])
	}
	assert.InDelta(t, 2/math.Pow(4.01, 1.5), f[0].X, 1e-9)
}

// body adapts a particle to the gonum Barnes-Hut volume, which serves as
// an exact direct-summation reference when theta is zero.
type body struct {
	pos  r3.Vec
	mass float64
}

func (b body) Coord3() r3.Vec { return b.pos }
func (b body) Mass() float64  { return b.mass }

func softened(g, eps float64) barneshut.Force3 {
	return func(_, _ barneshut.Particle3, m1, m2 float64, v r3.Vec) r3.Vec {
		r2 := r3.Dot(v, v)
		if r2 == 0 {
			return r3.Vec{}
		}
		d2 := r2 + eps*eps
		return r3.Scale(g*m1*m2/(d2*math.Sqrt(d2)), v)
	}
}

func directSum(t *testing.T, ps []particle.Particle, g, eps float64) []r3.Vec {
	bodies := make([]barneshut.Particle3, len(ps))
	for i := range ps {
		bodies[i] = body{ps[i].Pos, ps[i].Mass}
	}
	vol, err := barneshut.NewVolume(bodies)
	require.NoError(t, err)

	out := make([]r3.Vec, len(ps))
	for i := range bodies {
		f := vol.ForceOn(bodies[i], 0, softened(g, eps))
		out[i] = r3.Scale(1/ps[i].Mass, f)
	}
	return out
}

// lattice places n particles in distinct cells of a res^3 grid over the
// default bounds, so that each level 0 cell holds at most one particle.
func lattice(n, res int, seed uint64) []particle.Particle {
	gen := rand.New(rand.NewSource(seed))
	b := geom.DefaultBounds()
	edges := geom.CellEdges(b, res)
	used := map[[3]int]bool{}

	ps := []particle.Particle{}
	for len(ps) < n {
		c := [3]int{
			res/8 + gen.Intn(res*3/4),
			res/8 + gen.Intn(res*3/4),
			res/8 + gen.Intn(res*3/4),
		}
		if used[c] {
			continue
		}
		used[c] = true
		box := geom.CellBox(b, edges, c)
		p := r3.Vec{
			X: box.Min.X + edges.X*(0.25+0.5*gen.Float64()),
			Y: box.Min.Y + edges.Y*(0.25+0.5*gen.Float64()),
			Z: box.Min.Z + edges.Z*(0.25+0.5*gen.Float64()),
		}
		ps = append(ps, particle.Particle{Pos: p, Mass: 0.5 + gen.Float64()})
	}
	return ps
}

func rmsError(got, want []r3.Vec) float64 {
	num, den := 0.0, 0.0
	for i := range got {
		d := r3.Sub(got[i], want[i])
		num += r3.Dot(d, d)
		den += r3.Dot(want[i], want[i])
	}
	return math.Sqrt(num / den)
}

func TestAgainstDirectSum(t *testing.T) {
	ps := lattice(150, 16, 21)
	exact := directSum(t, ps, 1, 0.1)

	tests := []struct {
		theta float64
		tol   float64
	}{
		{0.1, 1e-3},
		{0.5, 5e-2},
	}
	for _, test := range tests {
		s := newSystem(t, ps, geom.DefaultBounds(), 16, 5,
			Params{Theta: test.theta, G: 1, Softening: 0.1})
		err := rmsError(s.run(t), exact)
		assert.True(t, err < test.tol, "theta %g: error %g", test.theta, err)
	}
}

func TestQuadrupoleImproves(t *testing.T) {
	ps := lattice(200, 16, 33)
	exact := directSum(t, ps, 1, 0.1)

	errs := map[bool]float64{}
	for _, quad := range []bool{false, true} {
		s := newSystem(t, ps, geom.DefaultBounds(), 16, 4,
			Params{Theta: 0.8, G: 1, Softening: 0.1, Quadrupole: quad})
		errs[quad] = rmsError(s.run(t), exact)
	}
	assert.True(t, errs[true] < errs[false],
		"quadrupole %g, monopole %g", errs[true], errs[false])
}

func TestMassAccounting(t *testing.T) {
	gen := rand.New(rand.NewSource(17))
	bounds := r3.Box{
		Min: r3.Vec{X: -4, Y: -1, Z: -2},
		Max: r3.Vec{X: 4, Y: 1, Z: 2},
	}
	ps := make([]particle.Particle, 400)
	total := 0.0
	for i := range ps {
		p := r3.Vec{
			X: bounds.Min.X + 8*gen.Float64(),
			Y: bounds.Min.Y + 2*gen.Float64(),
			Z: bounds.Min.Z + 4*gen.Float64(),
		}
		ps[i] = particle.Particle{Pos: p, Mass: 0.1 + gen.Float64()}
		total += ps[i].Mass
	}
	probe := r3.Vec{X: 6, Y: 0.5, Z: -3}
	ps = append(ps, particle.Particle{Pos: probe, Mass: 1})

	tests := []struct {
		theta        float64
		radius, base int
		quad         bool
	}{
		{0.5, 1, 16, false},
		{0.5, 0, 16, false},
		{0.5, 5, 16, false},
		{1.0, 0, 13, false},
		{0.3, 2, 13, true},
		{0.7, 0, 32, true},
	}

	for _, test := range tests {
		levels := 5
		if test.quad {
			levels = 4
		}
		s := newSystem(t, ps, bounds, test.base, levels, Params{
			Theta: test.theta, G: 1, Softening: 0.1,
			SearchRadius: test.radius, Quadrupole: test.quad,
		})
		require.NoError(t, s.pyramid.Build(s.pos, bounds))
		levelsList := s.pyramid.Levels()
		sc := s.tr.newScratch()

		for i, p := range ps {
			var self *octree.Moments
			seen := 0.0
			if _, ok := geom.CellOf(bounds, test.base, p.Pos); ok {
				m := octree.PointMoments(p.Pos.X, p.Pos.Y, p.Pos.Z, p.Mass)
				self = &m
				seen = p.Mass
			}
			s.tr.walk(&sc, levelsList, bounds, p.Pos, self)
			seen += sc.applied
			assert.InDelta(t, 0, (seen-total)/total, 1e-6,
				"theta %g radius %d particle %d", test.theta, test.radius, i)
		}
	}
}

func TestStatsAndWarnings(t *testing.T) {
	ps := particle.Uniform(500, 3.5, 0.01, 5)
	s := newSystem(t, ps, geom.DefaultBounds(), 32, 6,
		Params{Theta: 0.5, G: 1, Softening: 0.1})
	assert.Equal(t, 3, s.tr.Radius())
	assert.Len(t, s.ctx.Warnings(), 1)
	s.run(t)

	st := s.tr.Stats()
	assert.True(t, st.Accepted > 0)
	assert.True(t, st.Near+st.Straddling > 0)
	assert.True(t, st.Rejected+st.Residual > 0)

	s = newSystem(t, ps, geom.DefaultBounds(), 32, 6,
		Params{Theta: 0.5, G: 1, Softening: 0.1, SearchRadius: 5})
	assert.Empty(t, s.ctx.Warnings())
}

func TestAnisotropicRadiusWarning(t *testing.T) {
	flat := r3.Box{
		Min: r3.Vec{X: -4, Y: -1, Z: -2},
		Max: r3.Vec{X: 4, Y: 1, Z: 2},
	}
	ps := particle.Uniform(100, 0.9, 0.01, 8)
	p := Params{Theta: 0.5, G: 1, Softening: 0.1, SearchRadius: 5}

	s := newSystem(t, ps, geom.DefaultBounds(), 16, 5, p)
	s.run(t)
	assert.Empty(t, s.ctx.Warnings())

	s = newSystem(t, ps, flat, 16, 5, p)
	assert.Empty(t, s.ctx.Warnings())
	s.run(t)
	s.run(t)
	assert.Len(t, s.ctx.Warnings(), 1)

	p.SearchRadius = 17
	s = newSystem(t, ps, flat, 16, 5, p)
	s.run(t)
	assert.Empty(t, s.ctx.Warnings())
}

func TestParams(t *testing.T) {
	assert.Equal(t, 3, AutoRadius(0.5))
	assert.Equal(t, 5, SufficientRadius(0.5, 1))
	assert.Equal(t, 5, SufficientRadius(0.5, 0.5))
	assert.Equal(t, 17, SufficientRadius(0.5, 4))
	assert.Equal(t, 7, SufficientRadius(0.5, 1.2))
	assert.Equal(t, 11, AutoRadius(0.1))
	p := Params{Theta: 0.5, SearchRadius: 7}
	assert.Equal(t, 7, p.Radius())

	bad := []Params{
		{Theta: 0, G: 1},
		{Theta: math.NaN(), G: 1},
		{Theta: math.Inf(1), G: 1},
		{Theta: 0.5, G: -1},
		{Theta: 0.5, G: 1, Softening: -0.1},
		{Theta: 0.5, G: 1, SearchRadius: -1},
	}
	for i := range bad {
		assert.True(t, errors.Is(bad[i].Validate(), compute.ErrConfig), "params %d", i)
	}
}

func TestPreconditions(t *testing.T) {
	s := newSystem(t, pair(1), geom.DefaultBounds(), 8, 3,
		Params{Theta: 0.5, G: 1, Softening: 0.1})
	levels := s.pyramid.Levels()

	err := s.tr.Run(nil, levels, s.bounds)
	assert.True(t, errors.Is(err, compute.ErrPrecondition))
	err = s.tr.Run(s.pos, levels[:2], s.bounds)
	assert.True(t, errors.Is(err, compute.ErrPrecondition))
	err = s.tr.Run(s.pos, []*octree.Level{levels[0], nil, levels[2]}, s.bounds)
	assert.True(t, errors.Is(err, compute.ErrPrecondition))
	err = s.tr.Run(s.pos, []*octree.Level{levels[1], levels[1], levels[2]}, s.bounds)
	assert.True(t, errors.Is(err, compute.ErrPrecondition))

	live := s.ctx.Live()
	s.tr.Close()
	s.tr.Close()
	assert.Equal(t, live-1, s.ctx.Live())
	err = s.tr.Run(s.pos, levels, s.bounds)
	assert.True(t, errors.Is(err, compute.ErrClosed))
}
