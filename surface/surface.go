// Package surface implements the depth solver of spec §4.5: continuity
// integration with mass accounting (negative-depth clamp into Herr,
// fixed-level BC enforcement into Hfix), and the derived cell-centered
// velocity, direction, and Froude number.
//
// Grounded on the teacher's water-balance bookkeeping idiom —
// nearzero-threshold checks and per-cell accumulators rather than a
// single global counter (basin/evalCasc*.go, model/evaluate-WB.go) —
// generalized from a per-timestep scalar water balance to a per-cell one.
package surface

import (
	"math"

	"github.com/maseology/lia2d/grid"
)

// BctFixedDepth is the only boundary-type code the core interprets
// (spec §6): fixed water depth to Bcv.
const BctFixedDepth = 4

const epsHf = 1e-12

// Field bundles the arrays the depth solver reads and writes, per spec §3.
type Field struct {
	H, HMax           grid.Array
	Qe, Qs            grid.Array // face discharges at t+dt (post swap)
	Hfe, Hfs          grid.Array // face flow depths from the momentum solver
	Ext               grid.Array
	Bct               []int
	Bcv               grid.Array
	Hfix, Herr        grid.Array // accumulators, never reset by this package
	V, VDir, VMax, Fr grid.Array
}

// Params are the configurable options spec §6 lists that this solver uses.
type Params struct {
	Dt, G, Dx, Dy float64
}

// Update advances H by one step (continuity + mass accounting) and
// derives V/VDir/Fr, row-parallel over interior cells. Sign convention:
// positive face discharge flows toward the positive index, so a cell's
// west/north inflow are the neighboring cells' east/south discharges.
func Update(d grid.Definition, f Field, p Params) {
	d.ParallelRows(func(r int) {
		for c := 1; c < d.C-1; c++ {
			i := d.Idx(r, c)
			qe := f.Qe[i]
			qw := f.Qe[d.Idx(r, c-1)]
			qs := f.Qs[i]
			qn := f.Qs[d.Idx(r-1, c)]

			div := (qw-qe)/p.Dx + (qn-qs)/p.Dy
			hStar := f.H[i] + (f.Ext[i]+div)*p.Dt

			if hStar < 0 {
				f.Herr[i] += -hStar
				hStar = 0
			}
			if f.Bct != nil && f.Bct[i] == BctFixedDepth {
				f.Hfix[i] += f.Bcv[i] - hStar
				hStar = f.Bcv[i]
			}

			if hStar > f.HMax[i] {
				f.HMax[i] = hStar
			}
			f.H[i] = hStar
		}
	})

	d.ParallelRows(func(r int) {
		for c := 1; c < d.C-1; c++ {
			i := d.Idx(r, c)
			ve := faceVelocity(f.Qe[i], f.Hfe[i])
			vw := faceVelocity(f.Qe[d.Idx(r, c-1)], f.Hfe[d.Idx(r, c-1)])
			vs := faceVelocity(f.Qs[i], f.Hfs[i])
			vn := faceVelocity(f.Qs[d.Idx(r-1, c)], f.Hfs[d.Idx(r-1, c)])

			vx := 0.5 * (ve + vw)
			vy := 0.5 * (vs + vn)
			v := math.Hypot(vx, vy)

			dir := math.Atan2(-vy, vx) * 180 / math.Pi
			if dir < 0 {
				dir += 360
			}

			f.V[i] = v
			f.VDir[i] = dir
			if v > f.VMax[i] {
				f.VMax[i] = v
			}

			if f.H[i] > 0 {
				f.Fr[i] = v / math.Sqrt(p.G*f.H[i])
			} else {
				f.Fr[i] = 0 // spec §9 open question: undefined at h==0, documented sentinel choice
			}
		}
	})
}

// faceVelocity implements the divide-by-hf of spec §4.4/4.5,
// v = q / max(hf, eps) * [hf>0], with the [hf>0] factor written as an
// early return of 0 rather than a branchless multiply.
func faceVelocity(q, hf float64) float64 {
	if hf <= 0 {
		return 0
	}
	return q / math.Max(hf, epsHf)
}
