package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maseology/lia2d/core"
	"github.com/maseology/lia2d/grid"
	"github.com/maseology/lia2d/infil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestIni(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	fp := filepath.Join(dir, "scenario.ini")
	require.NoError(t, os.WriteFile(fp, []byte(body), 0o644))
	return fp
}

func TestLoadAppliesDefaultsForMissingKeys(t *testing.T) {
	fp := writeTestIni(t, "[grid]\nrows=5\ncols=5\ndx=2\ndy=2\n")
	sc, err := Load(fp)
	require.NoError(t, err)
	assert.Equal(t, 5, sc.Grid.R)
	assert.Equal(t, 2.0, sc.Grid.Dx)
	assert.Equal(t, 9.81, sc.G)
	assert.Equal(t, 0.7, sc.Cfl)
}

func TestLoadReadsExplicitValues(t *testing.T) {
	fp := writeTestIni(t, "[grid]\nrows=10\ncols=8\ndx=1\ndy=1\n\n[flow]\ncfl=0.4\nmax_error=5e-4\ndt_inf=30\n\n[infil]\nenabled=true\ngreen_ampt=true\n")
	sc, err := Load(fp)
	require.NoError(t, err)
	assert.Equal(t, 0.4, sc.Cfl)
	assert.Equal(t, 5e-4, sc.MaxError)
	assert.Equal(t, 30.0, sc.DtInf)
	assert.True(t, sc.Infiltrate)
	assert.True(t, sc.GreenAmpt)
}

func TestOptionsWiresInfiltrationFromScenario(t *testing.T) {
	sc := Scenario{
		Grid: grid.Definition{R: 4, C: 4, Dx: 1, Dy: 1},
		G: 9.81, Theta: 0.9, HfMin: 0.01, VRout: 0.1, Cfl: 0.7,
		DtMax: 1, DtMin: 1e-6, HMin: 1e-4, MaxError: 1e-3,
	}

	sc.Infiltrate = true
	sc.GreenAmpt = false
	sc.InfilRate = 2e-6
	opts := sc.Options()
	require.NotNil(t, opts.Infiltration)
	fr, ok := opts.Infiltration.(infil.FixedRate)
	require.True(t, ok)
	assert.Equal(t, 2e-6, fr.In[0])

	sc.GreenAmpt = true
	opts = sc.Options()
	_, ok = opts.Infiltration.(infil.GreenAmpt)
	assert.True(t, ok)

	sc.Infiltrate = false
	opts = sc.Options()
	assert.Nil(t, opts.Infiltration)
}

func TestLoadRejectsDegenerateGrid(t *testing.T) {
	fp := writeTestIni(t, "[grid]\nrows=1\ncols=1\n")
	_, err := Load(fp)
	assert.Error(t, err)
}

func TestOptionsCarriesScenarioTunables(t *testing.T) {
	sc := Scenario{
		Grid: grid.Definition{R: 4, C: 4, Dx: 1, Dy: 1},
		G: 9.81, Theta: 0.8, HfMin: 0.02, VRout: 0.05,
		Cfl: 0.6, DtMax: 5, DtMin: 1e-5, HMin: 1e-4, MaxError: 1e-3,
	}
	opts := sc.Options()
	assert.Equal(t, sc.Theta, opts.Theta)
	assert.Equal(t, sc.Grid, opts.Grid)
	assert.Equal(t, sc.MaxError, opts.MaxError)
}

func TestRecordWriterWritesHeaderAndRows(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "records.csv")
	rw, err := NewRecordWriter(fp)
	require.NoError(t, err)
	rw.Write(300, core.StepReport{Means: core.RecordMeans{Rain: 1e-6}, MassBalance: 0})
	rw.Close()

	data, err := os.ReadFile(fp)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rain")
}

func TestCheckpointRoundTrip(t *testing.T) {
	d := grid.Definition{R: 4, C: 4, Dx: 1, Dy: 1}
	m, err := core.New(core.Options{
		Grid: d, G: 9.81, Theta: 0.9, HfMin: 0.01, VRout: 0.1,
		Cfl: 0.7, DtMax: 1, DtMin: 1e-6, HMin: 0.001, MaxError: 1e-3,
	})
	require.NoError(t, err)
	hIn := grid.NewArray(d)
	hIn[d.Idx(1, 1)] = 1.23
	require.NoError(t, m.SetField("h", hIn))

	fp := filepath.Join(t.TempDir(), "run.ckpt")
	require.NoError(t, SaveCheckpoint(fp, 42.0, m.Snapshot()))

	t2, st, err := LoadCheckpoint(fp)
	require.NoError(t, err)
	assert.Equal(t, 42.0, t2)
	assert.Equal(t, 1.23, st.H[d.Idx(1, 1)])

	m2, err := core.New(core.Options{
		Grid: d, G: 9.81, Theta: 0.9, HfMin: 0.01, VRout: 0.1,
		Cfl: 0.7, DtMax: 1, DtMin: 1e-6, HMin: 0.001, MaxError: 1e-3,
	})
	require.NoError(t, err)
	require.NoError(t, m2.Restore(st))
	got, err := m2.GetField("h")
	require.NoError(t, err)
	assert.Equal(t, 1.23, got[d.Idx(1, 1)])
}
