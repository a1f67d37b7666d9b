// Package route implements the flow-direction classifier of spec §4.3: a
// per-face label deciding whether thin-film rain-routing, if triggered by
// the face-flow solver, drives water toward the positive-index neighbor,
// the negative-index neighbor, or is disabled.
package route

import (
	"math"

	"github.com/maseology/lia2d/grid"
)

// Label values for a face's routing direction.
const (
	// Ambiguous or no downhill candidate: no routing.
	None = -1
	// Route toward the positive-index neighbor.
	Positive = 0
	// Route toward the negative-index neighbor.
	Negative = 1
)

// Slopes bundles the three slope candidates the classifier compares per
// spec §4.3: the maximum downhill slope in any direction at this cell,
// the downhill slope toward the positive-index neighbor, and toward the
// negative-index neighbor.
type Slopes struct {
	MaxDz, Dz0, Dz1 float64
}

// Classify returns the routing label for one face given its slope
// candidates, per spec §4.3:
//
//	max_dz > 0 and max_dz == dz0  -> Positive
//	max_dz > 0 and max_dz == dz1  -> Negative
//	max_dz > 0, matches neither   -> None (ambiguous)
//	max_dz <= 0                   -> None
//
// Open question (spec §9): when max_dz equals both dz0 and dz1 (a flat
// saddle), this returns Positive — dz0 is checked first — matching the
// spec's literal ordering. Whether that tie-break is intentional or an
// oversight is left to validation; this implementation preserves the
// observable behavior rather than silently resolving the ambiguity.
func Classify(s Slopes) int {
	if s.MaxDz <= 0 {
		return None
	}
	switch {
	case s.MaxDz == s.Dz0:
		return Positive
	case s.MaxDz == s.Dz1:
		return Negative
	default:
		return None
	}
}

// ClassifyField runs Classify over every interior face of both axes,
// row-parallel, writing labels into dirE and dirS (spec's `dire`/`dirs`).
// zSlopesE/zSlopesS supply the three slope candidates per face, indexed
// identically to the face arrays they classify (east face of (r,c) at
// index d.Idx(r,c); south face likewise).
func ClassifyField(d grid.Definition, slopesE, slopesS []Slopes, dirE, dirS []int) {
	d.ParallelRows(func(r int) {
		for c := 1; c < d.C-1; c++ {
			i := d.Idx(r, c)
			dirE[i] = Classify(slopesE[i])
			dirS[i] = Classify(slopesS[i])
		}
	})
}

// SlopesFromElevation derives the per-face slope candidates from a bed
// elevation array, for use ahead of ClassifyField. The spec leaves the
// candidate slopes themselves as an external input (§4.3); this takes
// the natural reading: at each source cell, max_dz is the steepest
// downhill drop among its four axis-aligned neighbors, and dz0/dz1 are
// the downhill drops specifically toward this face's positive- and
// negative-index neighbors. A face only routes along its own axis when
// that axis is also the domain's steepest descent from the source cell.
func SlopesFromElevation(d grid.Definition, z grid.Array) (slopesE, slopesS []Slopes) {
	n := d.NumCells()
	slopesE = make([]Slopes, n)
	slopesS = make([]Slopes, n)
	d.ParallelRows(func(r int) {
		for c := 1; c < d.C-1; c++ {
			i := d.Idx(r, c)
			zi := z[i]
			dzE := zi - z[d.Idx(r, c+1)]
			dzW := zi - z[d.Idx(r, c-1)]
			dzS := zi - z[d.Idx(r+1, c)]
			dzN := zi - z[d.Idx(r-1, c)]
			maxDz := math.Max(math.Max(dzE, dzW), math.Max(dzS, dzN))

			slopesE[i] = Slopes{MaxDz: maxDz, Dz0: dzE, Dz1: dzW}
			slopesS[i] = Slopes{MaxDz: maxDz, Dz0: dzS, Dz1: dzN}
		}
	})
	return slopesE, slopesS
}
