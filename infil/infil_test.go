package infil

import (
	"math"
	"testing"

	"github.com/maseology/lia2d/grid"
	"github.com/stretchr/testify/assert"
)

func TestFixedRateCapsAtAvailableDepth(t *testing.T) {
	d := grid.Definition{R: 3, C: 3, Dx: 1, Dy: 1}
	h := grid.Fill(d, 0.01)
	in := grid.Fill(d, 1.0) // far above h/dt
	out := grid.NewArray(d)

	FixedRate{In: in}.Rate(d, h, 1.0, out)

	i := d.Idx(1, 1)
	assert.InDelta(t, 0.01, out[i], 1e-12)
}

func TestFixedRatePassesThroughWhenBelowCap(t *testing.T) {
	d := grid.Definition{R: 3, C: 3, Dx: 1, Dy: 1}
	h := grid.Fill(d, 1.0)
	in := grid.Fill(d, 1e-6)
	out := grid.NewArray(d)

	FixedRate{In: in}.Rate(d, h, 1.0, out)

	assert.InDelta(t, 1e-6, out[d.Idx(1, 1)], 1e-12)
}

// S5 — Green-Ampt monotonicity: constant soil, constant ponded depth.
// inf_amount strictly increases; inf_out strictly decreases; never
// negative; never exceeds h/dt.
func TestGreenAmptMonotonicity(t *testing.T) {
	d := grid.Definition{R: 3, C: 3, Dx: 1, Dy: 1}
	h := grid.Fill(d, 0.1) // constant ponded depth
	dt := 1.0

	ga := GreenAmpt{
		EffPor:           grid.Fill(d, 0.4),
		Pressure:         grid.Fill(d, 0.1),
		Conduct:          grid.Fill(d, 1e-6),
		WaterSoilContent: grid.Fill(d, 0.1),
		InfAmount:        grid.Fill(d, 1e-6), // small positive seed
	}
	i := d.Idx(1, 1)
	out := grid.NewArray(d)

	prevRate := math.Inf(1)
	prevF := ga.InfAmount[i]
	for step := 0; step < 20; step++ {
		ga.Rate(d, h, dt, out)
		assert.GreaterOrEqual(t, out[i], 0.0)
		assert.LessOrEqual(t, out[i], h[i]/dt+1e-15)
		assert.Less(t, out[i], prevRate, "inf_out should strictly decrease at step %d", step)
		assert.Greater(t, ga.InfAmount[i], prevF, "inf_amount should strictly increase at step %d", step)
		prevRate = out[i]
		prevF = ga.InfAmount[i]
	}
}
