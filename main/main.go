package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/oyin-bo/three-g-sub002/compute"
	"github.com/oyin-bo/three-g-sub002/diag"
	"github.com/oyin-bo/three-g-sub002/io"
	"github.com/oyin-bo/three-g-sub002/particle"
	"github.com/oyin-bo/three-g-sub002/sim"
	"github.com/oyin-bo/three-g-sub002/stream"
	plt "github.com/phil-mansfield/pyplot"
)

type FileGroup struct {
	log, prof *os.File
}

func (fg *FileGroup) Close() {
	if fg.log != nil {
		err := fg.log.Close()
		if err != nil {
			log.Fatal(err.Error())
		}
	}

	if fg.prof != nil {
		pprof.StopCPUProfile()
		err := fg.prof.Close()
		if err != nil {
			log.Fatal(err.Error())
		}
	}
}

func main() {
	var (
		simulate, exampleConfig string
		threads                 int
	)
	vars := map[string]*string{
		"Simulate":      &simulate,
		"ExampleConfig": &exampleConfig,
	}

	flag.StringVar(
		&simulate, "Simulate", "",
		"Configuration file for [Simulation] mode.",
	)
	flag.StringVar(
		&exampleConfig,
		"ExampleConfig", "", "Prints an example configuration file of the "+
			"specified type to stdout. The only accepted argument is "+
			"'Simulation'.",
	)
	flag.IntVar(
		&threads, "Threads", runtime.NumCPU(),
		"Number of worker goroutines used by each pipeline stage.",
	)

	flag.Parse()

	modeName, err := getModeName(vars)
	if err != nil {
		log.Fatal(err.Error())
	}

	switch modeName {
	case "Simulate":
		wrap, err := io.ReadSimulationConfig(simulate)
		if err != nil {
			log.Fatal(err.Error())
		}
		if threads <= 0 {
			log.Fatalf("Need to specify a positive number of Threads, got %d.", threads)
		}
		simulateMain(wrap, threads)

	case "ExampleConfig":
		switch exampleConfig {
		case "Simulation":
			fmt.Println(io.ExampleSimulationFile)
		default:
			log.Fatal(
				"Unrecognized 'ExampleConfig' argument. The only recognized " +
					"argument is 'Simulation'.",
			)
		}
	default:
		panic("Impossible")
	}
}

func getModeName(vars map[string]*string) (string, error) {
	setNames := []string{}

	for name, varPtr := range vars {
		if *varPtr != "" {
			setNames = append(setNames, name)
		}
	}

	if len(setNames) == 0 {
		return "", fmt.Errorf("No flags have been set.")
	}

	if len(setNames) > 1 {
		return "", fmt.Errorf(
			"The following flags were set: %s, but three-g "+
				"only accepts one flag at a time.",
			strings.Join(setNames, ", "),
		)
	}

	return setNames[0], nil
}

func simulateMain(wrap *io.SimulationWrapper, threads int) {
	con := &wrap.Simulation
	fg := setupIO(con)
	defer fg.Close()

	log.Println("Running Simulate main.")

	ps, err := initialConditions(con)
	if err != nil {
		log.Fatal(err.Error())
	}
	params, err := wrap.Params()
	if err != nil {
		log.Fatal(err.Error())
	}

	ctx, err := compute.NewContext(compute.NewCPU(threads))
	if err != nil {
		log.Fatal(err.Error())
	}
	defer ctx.Close()

	pos, vel := particle.Pack(ps)
	s, err := sim.New(ctx, params, pos, vel)
	if err != nil {
		log.Fatal(err.Error())
	}
	defer s.Dispose()
	s.Log(true)

	var hub *stream.Hub
	if con.ValidServe() {
		hub = stream.NewHub()
		defer hub.Close()
		go func() {
			log.Printf("Streaming diagnostics on ws://%s/", con.Serve)
			log.Fatal(http.ListenAndServe(con.Serve, hub))
		}()
	}

	start := diag.Summarize(s.Positions(), s.Velocities())
	drifts := make([]diag.Drift, 0, con.Steps)
	log.Printf(
		"%d particles, total mass %.4g, kinetic energy %.4g.",
		start.Count, start.Mass, start.KineticEnergy,
	)

	for i := 0; i < con.Steps; i++ {
		for hub != nil && hub.Paused() {
			time.Sleep(50 * time.Millisecond)
		}
		if err := s.Step(); err != nil {
			log.Fatalf("Step %d: %s", i, err.Error())
		}

		now := diag.Summarize(s.Positions(), s.Velocities())
		drifts = append(drifts, diag.Compare(s.Steps(), start, now))
		if hub != nil {
			hub.Broadcast(stream.NewFrame(s, start))
		}
	}

	last := drifts[len(drifts)-1]
	log.Printf(
		"Done. Centre of mass drift %.3g, momentum drift %.3g.",
		last.CenterOfMass, last.Momentum,
	)
	for _, w := range s.Warnings() {
		log.Println("Warning:", w)
	}

	if con.ValidPlotFile() {
		plotDrift(drifts, con.PlotFile)
	}
}

func setupIO(con *io.SimulationConfig) *FileGroup {
	fg := &FileGroup{}
	var err error

	if con.ValidLogFile() {
		fg.log, err = os.Create(con.LogFile)
		if err != nil {
			log.Fatal(err.Error())
		}
		log.SetOutput(fg.log)
	}

	if con.ValidProfileFile() {
		fg.prof, err = os.Create(con.ProfileFile)
		if err != nil {
			log.Fatal(err.Error())
		}
		err = pprof.StartCPUProfile(fg.prof)
		if err != nil {
			log.Fatal(err.Error())
		}
	}

	return fg
}

func initialConditions(con *io.SimulationConfig) ([]particle.Particle, error) {
	if con.ValidInput() {
		return io.ReadParticles(con.Input, con.AuxColumn)
	}

	seed := uint64(con.Seed)
	switch strings.ToLower(con.Generate) {
	case "uniform":
		m := con.TotalMass / float64(con.Particles)
		return particle.Uniform(con.Particles, con.Radius, m, seed), nil
	case "plummer":
		return particle.Plummer(
			con.Particles, con.Radius, con.TotalMass, con.G, seed,
		), nil
	}
	return nil, fmt.Errorf("Unrecognized generator '%s'.", con.Generate)
}

func plotDrift(drifts []diag.Drift, fname string) {
	steps := make([]float64, len(drifts))
	com := make([]float64, len(drifts))
	mom := make([]float64, len(drifts))
	for i, d := range drifts {
		steps[i], com[i], mom[i] = float64(d.Step), d.CenterOfMass, d.Momentum
	}

	plt.Figure()
	plt.Plot(steps, com, "k", plt.LW(2), plt.Label("centre of mass"))
	plt.Plot(steps, mom, "r", plt.LW(2), plt.Label("momentum"))
	plt.Title("Drift from the initial state")
	plt.XLabel("Step", plt.FontSize(16))
	plt.YLabel("Drift", plt.FontSize(16))
	plt.Legend(plt.Loc("upper left"))
	plt.SaveFig(fname)
	plt.Execute()
}
