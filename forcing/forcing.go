// Package forcing implements the hydrology source kernel (spec §4.1): it
// combines rainfall, infiltration, and capped user losses into an
// effective precipitation rate, floored so a single step can never remove
// more water than a cell holds.
package forcing

import (
	"math"

	"github.com/maseology/lia2d/grid"
	"github.com/sirupsen/logrus"
)

// Inputs bundles the per-cell rate fields the kernel reads. All fields are
// grid.Array of identical shape; Rain, Inf, LossesCapped are in m/s.
type Inputs struct {
	Rain, Inf, LossesCapped, H grid.Array
	Dt                         float64
}

// EffPrecip computes eff_precip = max(-h/dt, rain - inf - losses_capped)
// element-wise, one goroutine per interior row (grid.ParallelRows), and
// writes the result into out. out may not alias any input.
//
// Grounded on the teacher's row/cell dispatch-with-WaitGroup idiom
// (basin/evalConcurrentCell.go) generalized to a stateless element-wise
// kernel; the floor-at-emptying-the-cell rule mirrors the reservoir clamp
// in hru/hru.go's res.overflow.
func EffPrecip(d grid.Definition, in Inputs, out grid.Array) {
	if in.Dt <= 0 {
		logrus.WithField("dt", in.Dt).Warn("forcing: non-positive dt, effective precipitation kernel skipped")
		return
	}
	d.ParallelRows(func(r int) {
		for c := 1; c < d.C-1; c++ {
			i := d.Idx(r, c)
			floor := -in.H[i] / in.Dt
			net := in.Rain[i] - in.Inf[i] - in.LossesCapped[i]
			out[i] = math.Max(floor, net)
		}
	})
}

// Combine folds effective precipitation, user inflow, and an external
// drainage-network coupling rate into the single Ext source array the
// depth solver consumes (spec §3, `ext`). userInflow or drainage may be
// nil, meaning zero for every cell — the common case when no 1D coupling
// or point-source forcing is configured for a step.
func Combine(d grid.Definition, effPrecip, userInflow, drainage, out grid.Array) {
	d.ParallelRows(func(r int) {
		for c := 1; c < d.C-1; c++ {
			i := d.Idx(r, c)
			v := effPrecip[i]
			if userInflow != nil {
				v += userInflow[i]
			}
			if drainage != nil {
				v += drainage[i]
			}
			out[i] = v
		}
	})
}
