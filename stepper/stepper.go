// Package stepper implements the adaptive timestep controller of spec
// §4.6: the CFL-limited candidate dt, clamped to a configured maximum,
// computed over the wetted domain by a deterministic reduction so the
// chosen dt never depends on goroutine scheduling order.
//
// Grounded on the teacher's evalConcurrentCell.go reduction shape
// (per-row partials collapsed by a fixed-order fold) via
// grid.Definition.ReduceRows, and on gonum's floats package for the
// scalar clamp/min glue rather than hand-rolled comparisons.
package stepper

import (
	"math"

	"github.com/maseology/lia2d/grid"
	"gonum.org/v1/gonum/floats"
)

// Params are the configurable options of spec §6 this controller reads.
type Params struct {
	G, Dx, Dy float64
	Cfl       float64 // Courant number, in (0,1]
	DtMax     float64
	HMin      float64 // cells with h<=HMin are excluded from the CFL scan
}

// Next computes the timestep for the upcoming advance: the CFL-limited
// candidate over every wetted interior cell, capped at DtMax. A domain
// with no wetted cells (h<=HMin everywhere) returns DtMax unmodified.
func Next(d grid.Definition, h grid.Array, p Params) float64 {
	minSpacing := math.Min(p.Dx, p.Dy)

	cflDt := d.ReduceRows(func(r int) float64 {
		rowMin := math.Inf(1)
		for c := 1; c < d.C-1; c++ {
			hi := h[d.Idx(r, c)]
			if hi <= p.HMin {
				continue
			}
			celerity := math.Sqrt(p.G * hi)
			cand := minSpacing / celerity
			if cand < rowMin {
				rowMin = cand
			}
		}
		return rowMin
	}, math.Min, math.Inf(1))

	if math.IsInf(cflDt, 1) {
		return p.DtMax
	}
	return floats.Min([]float64{p.DtMax, p.Cfl * cflDt})
}
