// Package infil implements the two interchangeable infiltration kernels of
// spec §4.2: a user-fixed rate, and Green-Ampt with a wetting-front
// capillary-pressure formulation. Both are capped so a step never removes
// more water than a cell holds.
//
// Grounded on the teacher's reservoir-clamp idiom (hru/hru.go: a private
// params struct, a value-typed res with an Overflow-style clamp) and on
// gwru/topmodel.go's shape of a stateful Update method that folds
// accumulated state into the rate formula.
package infil

import (
	"math"

	"github.com/maseology/lia2d/grid"
)

// Model is the interface the driver dispatches infiltration through,
// letting the two variants be swapped without the caller branching.
type Model interface {
	// Rate computes inf_out for every interior cell into out, given the
	// current depth h and step dt, and updates any internal state
	// (Green-Ampt's cumulative infiltration depth).
	Rate(d grid.Definition, h grid.Array, dt float64, out grid.Array)
}

// FixedRate implements inf_out = min(h/dt, inf_in).
type FixedRate struct {
	// In is the externally supplied, possibly time-varying, infiltration
	// rate field (m/s) before capping.
	In grid.Array
}

// Rate implements Model.
func (f FixedRate) Rate(d grid.Definition, h grid.Array, dt float64, out grid.Array) {
	d.ParallelRows(func(r int) {
		for c := 1; c < d.C-1; c++ {
			i := d.Idx(r, c)
			out[i] = math.Min(h[i]/dt, f.In[i])
		}
	})
}

// GreenAmpt implements the Green-Ampt kernel of spec §4.2:
//
//	avail_por = max(eff_por - water_soil_content, 0)
//	rate      = conduct * (1 + avail_por*(pressure+h)/F)
//	inf_out   = min(h/dt, rate)
//	F        += inf_out*dt
//
// F (InfAmount) is cumulative infiltration depth and must be initialized
// to a small positive value by the caller before the first Rate call to
// avoid the singularity at F=0 — the same responsibility the teacher
// places on callers of gwru.TOPMODEL's deficit state before first Update.
type GreenAmpt struct {
	EffPor, Pressure, Conduct, WaterSoilContent grid.Array
	InfAmount                                   grid.Array // state, mutated in place
}

// Rate implements Model.
func (g GreenAmpt) Rate(d grid.Definition, h grid.Array, dt float64, out grid.Array) {
	d.ParallelRows(func(r int) {
		for c := 1; c < d.C-1; c++ {
			i := d.Idx(r, c)
			availPor := g.EffPor[i] - g.WaterSoilContent[i]
			if availPor < 0 {
				availPor = 0
			}
			f := g.InfAmount[i]
			rate := g.Conduct[i] * (1 + availPor*(g.Pressure[i]+h[i])/f)
			io := math.Min(h[i]/dt, rate)
			out[i] = io
			g.InfAmount[i] = f + io*dt
		}
	})
}
