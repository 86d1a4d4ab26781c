package io

import (
	"fmt"
	"strings"

	"github.com/oyin-bo/three-g-sub002/octree"
	"github.com/oyin-bo/three-g-sub002/sim"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/gcfg.v1"
)

const ExampleSimulationFile = `[Simulation]

#######################
# Required Parameters #
#######################

# Number of steps to run.
Steps = 600

# Initial conditions. Either give a whitespace-separated column file with
# the columns x y z m vx vy vz:
# Input = path/to/particles.txt
# AuxColumn = false
# or ask for generated particles. Generate must be one of
# [ Uniform | Plummer ].
Generate = Plummer
Particles = 5000
Radius = 1
TotalMass = 1
Seed = 1

#######################
# Optional Parameters #
#######################

# Opening angle. Smaller is more accurate and slower.
# Theta = 0.5
# Dt = 0.016666666666666666
# G = 3e-4
# Softening = 0.2
# Damping = 0
# MaxSpeed = 2
# MaxAccel = 1

# Pyramid shape. NumLevels defaults to 7 for monopole runs and 4 for
# quadrupole runs. Layout must be one of [ Atlas | Linear ].
# BaseRes = 64
# NumLevels = 7
# Layout = Atlas
# Quadrupole = false

# Steps between bounds refreshes.
# BoundsInterval = 90

# Chebyshev radius of the neighbour window. 0 picks ceil(1/Theta) + 1.
# SearchRadius = 0

# Address to stream per-step diagnostics to over a WebSocket.
# Serve = localhost:8080

# Output files which are useful for profiling and debugging.
# ProfileFile = prof.out
# LogFile = log.out

# A drift plot, written through matplotlib.
# PlotFile = drift.png

[Bounds]
# Initial world bounds. If this section is left out, the first step
# computes bounds from the particles.
# MinX = -1
# MinY = -1
# MinZ = -1
# MaxX = 1
# MaxY = 1
# MaxZ = 1`
)

type SharedConfig struct {
	// Optional
	LogFile, ProfileFile, PlotFile, Serve string
}

func (con *SharedConfig) ValidLogFile() bool {
	return con.LogFile != ""
}
func (con *SharedConfig) ValidProfileFile() bool {
	return con.ProfileFile != ""
}
func (con *SharedConfig) ValidPlotFile() bool {
	return con.PlotFile != ""
}
func (con *SharedConfig) ValidServe() bool {
	return con.Serve != ""
}

type SimulationConfig struct {
	SharedConfig

	// Required
	Steps int
	Input string

	Generate  string
	Particles int
	Radius    float64
	TotalMass float64
	Seed      int64

	// Optional
	Theta, Dt, G, Softening float64
	Damping                 float64
	MaxSpeed, MaxAccel      float64
	NumLevels, BaseRes      int
	BoundsInterval          int
	SearchRadius            int
	Layout                  string
	Quadrupole, AuxColumn   bool
}

type BoundsConfig struct {
	MinX, MinY, MinZ float64
	MaxX, MaxY, MaxZ float64
}

type SimulationWrapper struct {
	Simulation SimulationConfig
	Bounds     BoundsConfig
}

func DefaultSimulationWrapper() *SimulationWrapper {
	p := sim.DefaultParams(false)
	con := SimulationConfig{
		Radius: 1, TotalMass: 1, Seed: 1,
		Theta: p.Theta, Dt: p.Dt, G: p.G, Softening: p.Softening,
		Damping: p.Damping, MaxSpeed: p.MaxSpeed, MaxAccel: p.MaxAccel,
		BaseRes: p.BaseRes, BoundsInterval: p.BoundsInterval,
		SearchRadius: p.SearchRadius, Layout: "Atlas",
	}
	return &SimulationWrapper{Simulation: con}
}

func (con *SimulationConfig) ValidSteps() bool {
	return con.Steps > 0
}
func (con *SimulationConfig) ValidInput() bool {
	return con.Input != ""
}
func (con *SimulationConfig) ValidGenerate() bool {
	switch strings.ToLower(con.Generate) {
	case "uniform", "plummer":
		return true
	}
	return false
}
func (con *SimulationConfig) ValidParticles() bool {
	return con.Particles > 0
}
func (con *SimulationConfig) ValidRadius() bool {
	return con.Radius > 0
}
func (con *SimulationConfig) ValidTotalMass() bool {
	return con.TotalMass > 0
}
func (con *SimulationConfig) ValidLayout() bool {
	_, err := con.layout()
	return err == nil
}

func (con *SimulationConfig) layout() (string, error) {
	switch strings.ToLower(con.Layout) {
	case "", octree.AtlasLayout:
		return octree.AtlasLayout, nil
	case octree.LinearLayout:
		return octree.LinearLayout, nil
	}
	return "", fmt.Errorf(
		"Layout must be one of [Atlas | Linear]. '%s' is not recognized.",
		con.Layout,
	)
}

func (b *BoundsConfig) set() bool {
	return *b != BoundsConfig{}
}

func (b *BoundsConfig) Box() r3.Box {
	return r3.Box{
		Min: r3.Vec{X: b.MinX, Y: b.MinY, Z: b.MinZ},
		Max: r3.Vec{X: b.MaxX, Y: b.MaxY, Z: b.MaxZ},
	}
}

// CheckInit validates the configuration.
func (w *SimulationWrapper) CheckInit() error {
	con := &w.Simulation
	if !con.ValidSteps() {
		return fmt.Errorf("Need to specify a positive number of Steps.")
	}

	switch {
	case con.ValidInput() && con.Generate != "":
		return fmt.Errorf("Cannot specify both Input and Generate.")
	case con.ValidInput():
	case con.Generate == "":
		return fmt.Errorf("Need to specify either Input or Generate.")
	case !con.ValidGenerate():
		return fmt.Errorf(
			"Generate must be one of [Uniform | Plummer]. '%s' is not "+
				"recognized.", con.Generate,
		)
	case !con.ValidParticles():
		return fmt.Errorf(
			"Need to specify a positive number of Particles, got %d.",
			con.Particles,
		)
	case !con.ValidRadius():
		return fmt.Errorf("Need to specify a positive Radius, got %g.", con.Radius)
	case !con.ValidTotalMass():
		return fmt.Errorf(
			"Need to specify a positive TotalMass, got %g.", con.TotalMass,
		)
	}

	if _, err := con.layout(); err != nil {
		return err
	}

	_, err := w.Params()
	return err
}

// Params converts the configuration to simulation parameters.
func (w *SimulationWrapper) Params() (sim.Params, error) {
	con := &w.Simulation
	layout, err := con.layout()
	if err != nil {
		return sim.Params{}, err
	}

	p := sim.DefaultParams(con.Quadrupole)
	p.Theta, p.Dt, p.G, p.Softening = con.Theta, con.Dt, con.G, con.Softening
	p.Damping, p.MaxSpeed, p.MaxAccel = con.Damping, con.MaxSpeed, con.MaxAccel
	p.BaseRes, p.BoundsInterval = con.BaseRes, con.BoundsInterval
	p.SearchRadius, p.Layout = con.SearchRadius, layout
	if con.NumLevels != 0 {
		p.NumLevels = con.NumLevels
	}
	if w.Bounds.set() {
		b := w.Bounds.Box()
		p.Bounds = &b
	}

	return p, p.Validate()
}

// ReadSimulationConfig reads and checks the config file at fname.
func ReadSimulationConfig(fname string) (*SimulationWrapper, error) {
	w := DefaultSimulationWrapper()
	if err := gcfg.ReadFileInto(w, fname); err != nil {
		return nil, err
	}
	return w, w.CheckInit()
}

// ParseSimulationConfig is ReadSimulationConfig for an in-memory file.
func ParseSimulationConfig(text string) (*SimulationWrapper, error) {
	w := DefaultSimulationWrapper()
	if err := gcfg.ReadStringInto(w, text); err != nil {
		return nil, err
	}
	return w, w.CheckInit()
}
