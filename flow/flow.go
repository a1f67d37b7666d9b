// Package flow implements the face-flow solver of spec §4.4: the
// q-centered local-inertial momentum update on east/south cell faces,
// with fallback rules for dry faces (state 1), thin-film rain-routing
// (state 3), and a Bates-2010 flow-reversal safeguard folded into the
// momentum branch (state 2).
//
// This is the direct generalization of the teacher's lia/lia.go — a
// hand-translated (VB.NET-flavored) sketch of de Almeida et al. (2013)'s
// q-centered scheme against an unstructured dictionary-of-faces graph.
// The numbered equations there (q-update numerator/denominator, the
// hf<=hf_min dry branch, the transverse stencil average) reappear here
// against grid.Definition's regular raster (its CFL dt formula lives in
// package stepper), plus
// the two behaviors the sketch left as commented-out TODOs: the
// flow-reversal fallback and rain-routing.
package flow

import (
	"math"

	"github.com/maseology/lia2d/grid"
	"github.com/maseology/lia2d/route"
)

// Params are the configurable options of spec §6 that this solver reads.
type Params struct {
	G      float64 // gravitational acceleration, m/s^2
	Theta  float64 // inertia weighting in [0,1]; 1 = pure local
	HfMin  float64 // momentum-bypass threshold, m
	VRout  float64 // thin-film rain-routing kinematic velocity, m/s
	SlMax  float64 // magnitude clamp on face slope before B; +Inf = unclamped (see SPEC_FULL §11)
	Dt     float64
}

// Field bundles every array the solver reads or writes, laid out exactly
// as spec §3 names them.
type Field struct {
	Z, N, H      grid.Array
	Qe, Qs       grid.Array // current-step discharge (read-only input)
	QeNew, QsNew grid.Array // next-step discharge (write-only output)
	Hfe, Hfs     grid.Array // face flow depth, written for diagnostics/tests
	DirE, DirS   []int      // routing labels from route.ClassifyField
}

const epsQNorm = 1e-12

// Solve computes QeNew and QsNew for every interior face, row-parallel.
// It never writes the last interior column's east face or the last
// interior row's south face (spec's halo edge rule) — those keep
// whatever value QeNew/QsNew already held.
func Solve(d grid.Definition, f Field, p Params) {
	d.ParallelRows(func(r int) {
		lastCol := d.C - 2
		for c := 1; c <= lastCol; c++ {
			if c == lastCol {
				continue // east face of last interior column touches the halo
			}
			i := d.Idx(r, c)
			j := d.Idx(r, c+1)
			qst := 0.25 * (f.Qs[d.Idx(r-1, c)] + f.Qs[d.Idx(r-1, c+1)] + f.Qs[i] + f.Qs[j])
			qm1 := f.Qe[d.Idx(r, c-1)]
			qp1 := f.Qe[d.Idx(r, c+1)]
			label := route.None
			if f.DirE != nil {
				label = f.DirE[i]
			}
			f.QeNew[i] = solveFace(
				faceInputs{
					z0: f.Z[i], z1: f.Z[j], h0: f.H[i], h1: f.H[j],
					n0: f.N[i], n1: f.N[j], q0: f.Qe[i], qm1: qm1, qp1: qp1, qst: qst,
					L: d.Dx, label: label,
				}, p, &f.Hfe[i])
		}
	})
	d.ParallelRows(func(r int) {
		lastRow := d.R - 2
		if r == lastRow {
			return // south face of last interior row touches the halo
		}
		for c := 1; c < d.C-1; c++ {
			i := d.Idx(r, c)
			j := d.Idx(r+1, c)
			qst := 0.25 * (f.Qe[d.Idx(r, c-1)] + f.Qe[d.Idx(r, c)] + f.Qe[d.Idx(r+1, c-1)] + f.Qe[d.Idx(r+1, c)])
			qm1 := f.Qs[d.Idx(r-1, c)]
			qp1 := f.Qs[d.Idx(r+1, c)]
			label := route.None
			if f.DirS != nil {
				label = f.DirS[i]
			}
			f.QsNew[i] = solveFace(
				faceInputs{
					z0: f.Z[i], z1: f.Z[j], h0: f.H[i], h1: f.H[j],
					n0: f.N[i], n1: f.N[j], q0: f.Qs[i], qm1: qm1, qp1: qp1, qst: qst,
					L: d.Dy, label: label,
				}, p, &f.Hfs[i])
		}
	})
}

type faceInputs struct {
	z0, z1, h0, h1 float64
	n0, n1         float64
	q0, qm1, qp1   float64
	qst            float64
	L              float64
	label          int
}

// solveFace dispatches the tagged per-face state (dry|thin|wet) as a
// switch in the innermost loop rather than an indirect call, per spec §9.
// It also records the face flow depth hf into *hfOut for the depth
// solver's velocity derivation and for tests.
func solveFace(in faceInputs, p Params, hfOut *float64) float64 {
	wse0 := in.z0 + in.h0
	wse1 := in.z1 + in.h1
	hf := math.Max(wse0, wse1) - math.Max(in.z0, in.z1)
	*hfOut = hf

	switch {
	case hf <= 0:
		return 0 // state 1: dry face
	case hf > p.HfMin:
		return momentumUpdate(in, wse0, wse1, hf, p) // state 2
	default:
		return rainRoute(in, wse0, wse1, hf, p) // state 3: thin film
	}
}

func momentumUpdate(in faceInputs, wse0, wse1, hf float64, p Params) float64 {
	nbar := 0.5 * (in.n0 + in.n1)
	qNorm := math.Hypot(in.q0, in.qst)

	// SlMax==0 is treated as "unset" (unclamped), since a real slope cap
	// of exactly zero would forbid all flow; SPEC_FULL §11's default of
	// +Inf and the zero value collapse to the same unclamped behavior.
	slope := (wse0 - wse1) / in.L
	if p.SlMax > 0 && !math.IsInf(p.SlMax, 1) {
		if slope > p.SlMax {
			slope = p.SlMax
		} else if slope < -p.SlMax {
			slope = -p.SlMax
		}
	}

	a := p.Theta*in.q0 + (1-p.Theta)*0.5*(in.qm1+in.qp1)
	b := p.G * hf * p.Dt * slope
	if a*b < 0 {
		a = in.q0 // Bates-2010 fallback: flow and surface slope disagree
	}
	denom := 1 + p.G*p.Dt*nbar*nbar*qNorm/math.Pow(hf, 7.0/3.0)
	return (a + b) / denom
}

// rainRoute implements the thin-film kinematic transport of spec §4.4
// item 3: rho(h_src, wse_hi, wse_lo) = clamp(wse_hi-wse_lo, 0, h_src) *
// min(v_rout, L/dt). Positive q_new routes toward the positive index.
func rainRoute(in faceInputs, wse0, wse1, hf float64, p Params) float64 {
	vcap := p.VRout
	if lim := in.L / p.Dt; lim < vcap {
		vcap = lim
	}
	switch in.label {
	case route.Positive:
		if wse1 > wse0 {
			return -rho(in.h1, wse1, wse0, vcap)
		}
	case route.Negative:
		if wse0 > wse1 {
			return rho(in.h0, wse0, wse1, vcap)
		}
	}
	return 0
}

func rho(hSrc, wseHi, wseLo, vcap float64) float64 {
	dh := wseHi - wseLo
	if dh < 0 {
		dh = 0
	}
	if dh > hSrc {
		dh = hSrc
	}
	return dh * vcap
}
