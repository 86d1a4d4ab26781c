package diag

import (
	"math"
	"testing"

	"github.com/oyin-bo/three-g-sub002/compute"
	"github.com/oyin-bo/three-g-sub002/geom"
	"github.com/oyin-bo/three-g-sub002/octree"
	"github.com/oyin-bo/three-g-sub002/particle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestSummarize(t *testing.T) {
	ps := []particle.Particle{
		{Pos: r3.Vec{X: 1}, Vel: r3.Vec{Y: 2}, Mass: 1},
		{Pos: r3.Vec{X: -1, Z: 3}, Vel: r3.Vec{Y: -1}, Mass: 3},
		{Pos: r3.Vec{X: 100}, Vel: r3.Vec{X: 100}, Mass: 0},
		{Pos: r3.Vec{X: 100}, Vel: r3.Vec{X: math.NaN()}, Mass: 1},
	}
	pos, vel := particle.Pack(ps)
	s := Summarize(pos, vel)

	assert.Equal(t, 2, s.Count)
	assert.Equal(t, 4.0, s.Mass)
	assert.InDelta(t, -0.5, s.CenterOfMass.X, 1e-12)
	assert.InDelta(t, 2.25, s.CenterOfMass.Z, 1e-12)
	assert.InDelta(t, -1, s.Momentum.Y, 1e-12)
	assert.InDelta(t, 0.5*(4+3), s.KineticEnergy, 1e-12)

	assert.Equal(t, Summary{}, Summarize(nil, nil))
}

func TestCompare(t *testing.T) {
	a := Summary{Mass: 2, CenterOfMass: r3.Vec{X: 1}, Momentum: r3.Vec{Y: 1}}
	b := Summary{Mass: 2, CenterOfMass: r3.Vec{X: 1, Y: 3, Z: 4}, Momentum: r3.Vec{Y: 2}}
	d := Compare(7, a, b)
	assert.Equal(t, Drift{Step: 7, CenterOfMass: 5, Momentum: 1}, d)
}

func TestLevelMasses(t *testing.T) {
	ctx, err := compute.NewContext(compute.NewCPU(2))
	require.NoError(t, err)

	ps := particle.Uniform(200, 3, 0.5, 1)
	pos, _ := particle.Pack(ps)
	buf, err := ctx.Alloc("positions", len(pos))
	require.NoError(t, err)
	copy(buf.Data, pos)

	specs, err := octree.Plan(9, 4, false, octree.LinearLayout)
	require.NoError(t, err)
	p, err := octree.NewPyramid(ctx, len(ps), specs, false, nil)
	require.NoError(t, err)
	require.NoError(t, p.Build(buf, geom.DefaultBounds()))

	ms := LevelMasses(p.Levels())
	require.Len(t, ms, 4)
	for _, m := range ms {
		assert.InDelta(t, 100, m, 1e-9)
	}
	assert.True(t, MassConserved(p.Levels(), 1e-4))

	p.Levels()[2].A0.Data[3] += 1
	assert.False(t, MassConserved(p.Levels(), 1e-4))
}
