package io

import (
	"errors"
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/oyin-bo/three-g-sub002/compute"
	"github.com/oyin-bo/three-g-sub002/octree"
	"github.com/oyin-bo/three-g-sub002/particle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestExampleSimulationFile(t *testing.T) {
	w, err := ParseSimulationConfig(ExampleSimulationFile)
	require.NoError(t, err)

	con := w.Simulation
	assert.Equal(t, 600, con.Steps)
	assert.Equal(t, 5000, con.Particles)
	assert.Equal(t, "Plummer", con.Generate)
	assert.False(t, con.ValidServe())
	assert.False(t, con.AuxColumn)

	p, err := w.Params()
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.Theta)
	assert.Equal(t, 7, p.NumLevels)
	assert.Equal(t, octree.AtlasLayout, p.Layout)
	assert.Nil(t, p.Bounds)
}

func TestSimulationConfig(t *testing.T) {
	text := `[Simulation]
Steps = 10
Input = particles.txt
Theta = 0.3
Quadrupole = true
Layout = linear
Serve = localhost:9000
LogFile = log.out

[Bounds]
MinX = -2
MinY = -2
MinZ = -1
MaxX = 2
MaxY = 2
MaxZ = 1`

	w, err := ParseSimulationConfig(text)
	require.NoError(t, err)
	assert.True(t, w.Simulation.ValidServe())
	assert.True(t, w.Simulation.ValidLogFile())
	assert.False(t, w.Simulation.ValidProfileFile())

	p, err := w.Params()
	require.NoError(t, err)
	assert.Equal(t, 0.3, p.Theta)
	assert.True(t, p.Quadrupole)
	assert.Equal(t, octree.MaxQuadrupoleLevels, p.NumLevels)
	assert.Equal(t, octree.LinearLayout, p.Layout)
	require.NotNil(t, p.Bounds)
	assert.Equal(t, r3.Box{
		Min: r3.Vec{X: -2, Y: -2, Z: -1}, Max: r3.Vec{X: 2, Y: 2, Z: 1},
	}, *p.Bounds)
}

func TestSimulationConfigErrors(t *testing.T) {
	tests := []struct {
		name, text string
		config     bool
	}{
		{"no steps", "[Simulation]\nGenerate = Uniform\nParticles = 5", false},
		{"no source", "[Simulation]\nSteps = 1", false},
		{"two sources", "[Simulation]\nSteps = 1\nInput = a\nGenerate = Uniform\nParticles = 1", false},
		{"bad generator", "[Simulation]\nSteps = 1\nGenerate = Disk\nParticles = 1", false},
		{"no particles", "[Simulation]\nSteps = 1\nGenerate = Uniform", false},
		{"bad layout", "[Simulation]\nSteps = 1\nInput = a\nLayout = spiral", false},
		{"bad theta", "[Simulation]\nSteps = 1\nInput = a\nTheta = -1", true},
		{"too many levels", "[Simulation]\nSteps = 1\nInput = a\nQuadrupole = true\nNumLevels = 6", true},
		{"degenerate bounds", "[Simulation]\nSteps = 1\nInput = a\n[Bounds]\nMaxX = 1", true},
	}

	for _, test := range tests {
		_, err := ParseSimulationConfig(test.text)
		require.Error(t, err, test.name)
		assert.Equal(t, test.config, errors.Is(err, compute.ErrConfig), test.name)
	}

	_, err := ParseSimulationConfig("[Simulation]\nNotAField = 3")
	assert.Error(t, err)
}

func TestParticleFile(t *testing.T) {
	ps := particle.Uniform(25, 1, 0.5, 4)
	for i := range ps {
		ps[i].Aux = float64(i)
		ps[i].Vel.Y = 0.25 * float64(i)
	}

	text := ""
	for _, p := range ps {
		text += fmt.Sprintf(
			"%.17g %.17g %.17g %.17g %.17g %.17g %.17g %.17g\n",
			p.Pos.X, p.Pos.Y, p.Pos.Z, p.Mass, p.Vel.X, p.Vel.Y, p.Vel.Z, p.Aux,
		)
	}
	fname := path.Join(t.TempDir(), "particles.txt")
	require.NoError(t, os.WriteFile(fname, []byte(text), 0644))

	read, err := ReadParticles(fname, true)
	require.NoError(t, err)
	assert.Equal(t, ps, read)

	read, err = ReadParticles(fname, false)
	require.NoError(t, err)
	require.Len(t, read, len(ps))
	assert.Equal(t, ps[3].Pos, read[3].Pos)
	assert.Equal(t, ps[3].Vel, read[3].Vel)
	assert.Equal(t, 0.0, read[3].Aux)

	_, err = ReadParticles(path.Join(t.TempDir(), "missing.txt"), false)
	assert.Error(t, err)
}
