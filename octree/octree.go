package octree

import (
	"github.com/oyin-bo/three-g-sub002/compute"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pyramid chains an Aggregator and one Builder per coarser level.
type Pyramid struct {
	Aggregator *Aggregator
	Builders   []*Builder
}

// NewPyramid creates the stages for every level in specs, which must come
// from Plan. targets may be nil or hold one entry per level.
func NewPyramid(
	ctx *compute.Context, n int, specs []LevelSpec,
	quadrupole bool, targets []Targets,
) (*Pyramid, error) {
	target := func(i int) Targets {
		if i < len(targets) {
			return targets[i]
		}
		return Targets{}
	}

	p := &Pyramid{}
	var err error
	p.Aggregator, err = NewAggregator(ctx, n, specs[0], quadrupole, target(0))
	if err != nil {
		return nil, err
	}

	for i := 1; i < len(specs); i++ {
		b, err := NewBuilder(
			ctx, i, specs[i-1].Res, specs[i], quadrupole, target(i),
		)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.Builders = append(p.Builders, b)
	}
	return p, nil
}

// Levels returns every level, finest first.
func (p *Pyramid) Levels() []*Level {
	out := []*Level{p.Aggregator.Level()}
	for _, b := range p.Builders {
		out = append(out, b.Level())
	}
	return out
}

// Build aggregates positions into level 0 and then runs each Builder in
// order.
func (p *Pyramid) Build(positions *compute.Buffer, bounds r3.Box) error {
	if err := p.Aggregator.Run(positions, bounds); err != nil {
		return err
	}
	child := p.Aggregator.Level()
	for _, b := range p.Builders {
		if err := b.Run(child); err != nil {
			return err
		}
		child = b.Level()
	}
	return nil
}

// Close closes every stage.
func (p *Pyramid) Close() {
	p.Aggregator.Close()
	for _, b := range p.Builders {
		b.Close()
	}
}
