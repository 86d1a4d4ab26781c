package compute

import (
	"fmt"
)

// Graph records which stage writes and reads each named buffer of a
// pipeline. Stages must be added in execution order. Every buffer has at
// most one writer, and a stage may only read buffers which are pipeline
// inputs or were written by an earlier stage.
type Graph struct {
	stages []string
	writer map[string]string
	inputs map[string]bool
	reads  map[string][]string
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		writer: make(map[string]string),
		inputs: make(map[string]bool),
		reads:  make(map[string][]string),
	}
}

// Input declares buffers which are produced outside of the pipeline.
func (g *Graph) Input(names ...string) error {
	for _, name := range names {
		if w, ok := g.writer[name]; ok {
			return fmt.Errorf(
				"%w: input '%s' is already written by stage '%s'",
				ErrConfig, name, w,
			)
		}
		g.inputs[name] = true
	}
	return nil
}

// Stage appends a stage which reads and writes the given buffers.
func (g *Graph) Stage(name string, reads, writes []string) error {
	for _, s := range g.stages {
		if s == name {
			return fmt.Errorf("%w: stage '%s' added twice", ErrConfig, name)
		}
	}

	for _, r := range reads {
		if _, ok := g.writer[r]; !ok && !g.inputs[r] {
			return fmt.Errorf(
				"%w: stage '%s' reads '%s' before anything writes it",
				ErrConfig, name, r,
			)
		}
	}
	for _, w := range writes {
		if prev, ok := g.writer[w]; ok {
			return fmt.Errorf(
				"%w: stages '%s' and '%s' both write '%s'",
				ErrConfig, prev, name, w,
			)
		}
		if g.inputs[w] {
			return fmt.Errorf(
				"%w: stage '%s' writes pipeline input '%s'", ErrConfig, name, w,
			)
		}
	}

	for _, w := range writes {
		g.writer[w] = name
	}
	g.reads[name] = append([]string(nil), reads...)
	g.stages = append(g.stages, name)
	return nil
}

// Writer returns the stage which writes a buffer.
func (g *Graph) Writer(buffer string) (stage string, ok bool) {
	stage, ok = g.writer[buffer]
	return stage, ok
}

// Reads returns the buffers read by a stage.
func (g *Graph) Reads(stage string) []string { return g.reads[stage] }

// Stages returns the stages in execution order.
func (g *Graph) Stages() []string {
	return append([]string(nil), g.stages...)
}
