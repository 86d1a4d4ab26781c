package io

import (
	"fmt"

	"github.com/oyin-bo/three-g-sub002/particle"
	"github.com/phil-mansfield/table"
	"gonum.org/v1/gonum/spatial/r3"
)

// Column indices of a particle file.
const (
	xCol, yCol, zCol = 0, 1, 2
	mCol             = 3
	vxCol, vyCol     = 4, 5
	vzCol            = 6
	auxCol           = 7
)

// ReadParticles reads initial conditions from a whitespace-separated column
// file with the columns x y z m vx vy vz. If aux is true an eighth column is
// read into the aux channel.
func ReadParticles(fname string, aux bool) ([]particle.Particle, error) {
	colIdxs := []int{xCol, yCol, zCol, mCol, vxCol, vyCol, vzCol}
	if aux {
		colIdxs = append(colIdxs, auxCol)
	}
	cols, err := table.ReadTable(fname, colIdxs, nil)
	if err != nil {
		return nil, err
	}

	ps := make([]particle.Particle, len(cols[0]))
	for i := range ps {
		ps[i] = particle.Particle{
			Pos:  r3.Vec{X: cols[0][i], Y: cols[1][i], Z: cols[2][i]},
			Mass: cols[3][i],
			Vel:  r3.Vec{X: cols[4][i], Y: cols[5][i], Z: cols[6][i]},
		}
		if aux {
			ps[i].Aux = cols[7][i]
		}
	}
	if len(ps) == 0 {
		return nil, fmt.Errorf("Particle file %s is empty.", fname)
	}
	return ps, nil
}
