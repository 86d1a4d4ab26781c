/*package sim sequences the gravity pipeline. Each Step optionally refreshes
the world bounds, builds the moment pyramid from the active positions,
traverses it to get accelerations and integrates into the inactive particle
buffers before swapping them in.
*/
package sim

import (
	"fmt"
	"log"
	"runtime"

	"github.com/oyin-bo/three-g-sub002/bounds"
	"github.com/oyin-bo/three-g-sub002/compute"
	"github.com/oyin-bo/three-g-sub002/geom"
	"github.com/oyin-bo/three-g-sub002/integrator"
	"github.com/oyin-bo/three-g-sub002/octree"
	"github.com/oyin-bo/three-g-sub002/particle"
	"github.com/oyin-bo/three-g-sub002/traversal"
	"gonum.org/v1/gonum/spatial/r3"
)

// Names of the buffers in the pipeline graph.
const (
	PositionsActive  = "positions.active"
	VelocitiesActive = "velocities.active"
	PositionsNext    = "positions.next"
	VelocitiesNext   = "velocities.next"
	WorldBounds      = "bounds"
	Forces           = "forces"
)

// LevelBuffer returns the graph name of pyramid level l.
func LevelBuffer(l int) string { return fmt.Sprintf("level.%d", l) }

// Simulation owns the particle ping-pong buffers and the stages which
// advance them.
type Simulation struct {
	ctx    *compute.Context
	params Params
	n      int
	graph  *compute.Graph

	pos, vel [2]*compute.Buffer
	active   int
	readback []float64

	reducer *bounds.Reducer
	pyramid *octree.Pyramid
	trav    *traversal.Traversal
	integ   *integrator.Integrator

	steps, lastBounds int
	reduceFirst       bool

	log      bool
	ms       runtime.MemStats
	disposed bool
}

// New creates a Simulation from stride-4 position (x, y, z, mass) and
// velocity (vx, vy, vz, aux) buffers, which are copied.
func New(
	ctx *compute.Context, params Params, positions, velocities []float64,
) (*Simulation, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	} else if err := particle.CheckBuffers(positions, velocities); err != nil {
		return nil, fmt.Errorf("%w: %s", compute.ErrConfig, err.Error())
	}
	n := particle.Count(positions)
	if n == 0 {
		return nil, fmt.Errorf("%w: No particles given.", compute.ErrConfig)
	}

	s := &Simulation{ctx: ctx, params: params, n: n}
	if err := s.init(positions, velocities); err != nil {
		s.Dispose()
		return nil, err
	}
	return s, nil
}

func (s *Simulation) init(positions, velocities []float64) error {
	p := &s.params
	initial := geom.DefaultBounds()
	if p.Bounds != nil {
		initial = *p.Bounds
	} else {
		s.reduceFirst = true
	}

	var err error
	for i := 0; i < 2; i++ {
		if s.pos[i], err = s.ctx.Alloc(
			fmt.Sprintf("positions.%d", i), len(positions),
		); err != nil {
			return err
		}
		if s.vel[i], err = s.ctx.Alloc(
			fmt.Sprintf("velocities.%d", i), len(velocities),
		); err != nil {
			return err
		}
	}
	copy(s.pos[0].Data, positions)
	copy(s.vel[0].Data, velocities)
	s.readback = make([]float64, bounds.PairLen)

	specs, err := octree.Plan(p.BaseRes, p.NumLevels, p.Quadrupole, p.Layout)
	if err != nil {
		return err
	}

	if s.reducer, err = bounds.New(s.ctx, s.n, initial); err != nil {
		return err
	}
	if s.pyramid, err = octree.NewPyramid(
		s.ctx, s.n, specs, p.Quadrupole, nil,
	); err != nil {
		return err
	}
	if s.trav, err = traversal.New(
		s.ctx, s.n, specs, p.traversalParams(), compute.Owned(0),
	); err != nil {
		return err
	}
	if s.integ, err = integrator.New(s.ctx, s.n, p.integratorParams()); err != nil {
		return err
	}

	s.graph, err = wire(len(specs))
	return err
}

type stage struct {
	name          string
	reads, writes []string
}

// wire records the data flow of one step.
func wire(levels int) (*compute.Graph, error) {
	g := compute.NewGraph()
	if err := g.Input(PositionsActive, VelocitiesActive); err != nil {
		return nil, err
	}

	stages := []stage{
		{"bounds", []string{PositionsActive}, []string{WorldBounds}},
		{"aggregate",
			[]string{PositionsActive, WorldBounds}, []string{LevelBuffer(0)}},
	}
	all := []string{PositionsActive, WorldBounds, LevelBuffer(0)}
	for l := 1; l < levels; l++ {
		stages = append(stages, stage{
			fmt.Sprintf("pyramid.%d", l),
			[]string{LevelBuffer(l - 1)}, []string{LevelBuffer(l)},
		})
		all = append(all, LevelBuffer(l))
	}
	stages = append(stages,
		stage{"traversal", all, []string{Forces}},
		stage{"integrate",
			[]string{PositionsActive, VelocitiesActive, Forces},
			[]string{PositionsNext, VelocitiesNext}},
	)

	for _, st := range stages {
		if err := g.Stage(st.name, st.reads, st.writes); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Log turns progress logging on or off.
func (s *Simulation) Log(flag bool) { s.log = flag }

// Step advances the simulation by one time step. A failed step leaves the
// particle buffers undefined.
func (s *Simulation) Step() error {
	if s.disposed {
		return compute.ErrClosed
	}
	pos, vel := s.pos[s.active], s.vel[s.active]

	if s.boundsDue() {
		updated, err := s.reducer.Run(pos, s.readback)
		if err != nil {
			return err
		}
		s.lastBounds = s.steps
		s.reduceFirst = false
		if s.log {
			runtime.ReadMemStats(&s.ms)
			log.Printf(
				"Step %d: bounds %v (updated = %t). Alloc: %5d MB, Sys: %5d MB",
				s.steps, s.reducer.Bounds(), updated,
				s.ms.Alloc>>20, s.ms.Sys>>20,
			)
		}
	}
	b := s.reducer.Bounds()

	if err := s.pyramid.Build(pos, b); err != nil {
		return err
	}
	if err := s.trav.Run(pos, s.pyramid.Levels(), b); err != nil {
		return err
	}

	next := 1 - s.active
	err := s.integ.Run(pos, vel, s.trav.Forces(), s.pos[next], s.vel[next])
	if err != nil {
		return err
	}
	s.active = next
	s.steps++
	return nil
}

func (s *Simulation) boundsDue() bool {
	if s.reduceFirst {
		return true
	}
	return s.steps-s.lastBounds >= s.params.BoundsInterval
}

// Run calls Step n times.
func (s *Simulation) Run(n int) error {
	for i := 0; i < n; i++ {
		if err := s.Step(); err != nil {
			return fmt.Errorf("step %d: %w", s.steps, err)
		}
	}
	return nil
}

// Bounds returns a snapshot of the world bounds.
func (s *Simulation) Bounds() r3.Box { return s.reducer.Bounds() }

// Positions returns the active position buffer. It is overwritten by the
// second Step after the call.
func (s *Simulation) Positions() []float64 { return s.pos[s.active].Data }

// Velocities returns the active velocity buffer.
func (s *Simulation) Velocities() []float64 { return s.vel[s.active].Data }

// Forces returns the accelerations computed by the last Step.
func (s *Simulation) Forces() []float64 { return s.trav.Forces().Data }

// Levels returns the pyramid built by the last Step.
func (s *Simulation) Levels() []*octree.Level { return s.pyramid.Levels() }

// Count returns the number of particles.
func (s *Simulation) Count() int { return s.n }

// Steps returns the number of completed steps.
func (s *Simulation) Steps() int { return s.steps }

// Stats returns the traversal statistics of the last Step.
func (s *Simulation) Stats() traversal.Stats { return s.trav.Stats() }

// Warnings returns the degraded-accuracy warnings raised so far.
func (s *Simulation) Warnings() []string { return s.ctx.Warnings() }

// Graph returns the pipeline's buffer graph.
func (s *Simulation) Graph() *compute.Graph { return s.graph }

// Params returns the configuration.
func (s *Simulation) Params() Params { return s.params }

// Dispose releases everything the Simulation and its stages allocated.
// It does not close the Context. Disposing twice is a no-op.
func (s *Simulation) Dispose() {
	if s.disposed {
		return
	}
	if s.reducer != nil {
		s.reducer.Close()
	}
	if s.pyramid != nil {
		s.pyramid.Close()
	}
	if s.trav != nil {
		s.trav.Close()
	}
	for i := 0; i < 2; i++ {
		s.ctx.Free(s.pos[i])
		s.ctx.Free(s.vel[i])
	}
	s.disposed = true
}
