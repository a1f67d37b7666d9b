package stepper

import (
	"math"
	"testing"

	"github.com/maseology/lia2d/grid"
	"github.com/stretchr/testify/assert"
)

// S6 — a single deep, fast cell governs the domain-wide CFL limit.
func TestNextIsGovernedByTheDeepestWettedCell(t *testing.T) {
	d := grid.Definition{R: 4, C: 4, Dx: 2, Dy: 2}
	h := grid.NewArray(d)
	h[d.Idx(1, 1)] = 0.05
	h[d.Idx(2, 2)] = 4.0 // deepest cell, smallest per-cell CFL dt
	p := Params{G: 9.81, Dx: 2, Dy: 2, Cfl: 0.7, DtMax: 100, HMin: 0.001}

	want := p.Cfl * (2.0 / math.Sqrt(9.81*4.0))
	got := Next(d, h, p)
	assert.InDelta(t, want, got, 1e-12)
}

func TestNextIsCappedAtDtMax(t *testing.T) {
	d := grid.Definition{R: 3, C: 3, Dx: 100, Dy: 100}
	h := grid.NewArray(d)
	h[d.Idx(1, 1)] = 0.01 // shallow: uncapped CFL dt would be huge
	p := Params{G: 9.81, Dx: 100, Dy: 100, Cfl: 1.0, DtMax: 5.0, HMin: 0.001}
	assert.Equal(t, 5.0, Next(d, h, p))
}

func TestNextReturnsDtMaxWhenDomainIsDry(t *testing.T) {
	d := grid.Definition{R: 3, C: 3, Dx: 1, Dy: 1}
	h := grid.NewArray(d)
	p := Params{G: 9.81, Dx: 1, Dy: 1, Cfl: 0.7, DtMax: 10.0, HMin: 0.001}
	assert.Equal(t, 10.0, Next(d, h, p))
}

// Determinism: repeated calls over the same field return bit-identical dt,
// independent of goroutine scheduling (spec §5).
func TestNextIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	d := grid.Definition{R: 10, C: 10, Dx: 1, Dy: 1}
	h := grid.NewArray(d)
	for r := 1; r < d.R-1; r++ {
		for c := 1; c < d.C-1; c++ {
			h[d.Idx(r, c)] = float64(r*d.C+c) * 0.01
		}
	}
	p := Params{G: 9.81, Dx: 1, Dy: 1, Cfl: 0.5, DtMax: 1000, HMin: 0.001}
	first := Next(d, h, p)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Next(d, h, p))
	}
}
