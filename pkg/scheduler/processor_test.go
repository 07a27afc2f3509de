package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glaiprocessor/internal/ledger"
	"glaiprocessor/internal/quicklook"
	"glaiprocessor/pkg/config"
	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/inversion"
	"glaiprocessor/pkg/lut"
	"glaiprocessor/pkg/raster"
	"glaiprocessor/pkg/scene"
	"glaiprocessor/pkg/storage"
)

// linearModel simulates a flat visible spectrum and a NIR band that grows
// with lai
type linearModel struct {
	calls int
}

func (m *linearModel) Simulate(ctx context.Context, req lut.SimulationRequest) (*lut.Table, error) {
	m.calls++
	lai, ok := req.Samples.Column("lai")
	if !ok {
		return nil, glaierrors.New(glaierrors.KindConfiguration, "test.model", "lai not sampled")
	}
	rows := make([][]float64, len(lai))
	for i, v := range lai {
		rows[i] = []float64{0.03, 0.06, 0.04, 0.1 + v/20}
	}
	return lut.NewTable(s2Bands, rows)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	params := filepath.Join(t.TempDir(), "params.csv")
	require.NoError(t, os.WriteFile(params, []byte("Parameter,Min,Max\nlai,0,8\ncab,10,80\n"), 0644))

	cfg := config.DefaultConfig()
	cfg.LUT.RTMParams = params
	cfg.LUT.Size = 60
	cfg.Inversion.NSolutions = 5
	return cfg
}

// writeScene writes a 3x3 Sentinel-2 scene in digital numbers. The pixels
// listed in nodata hold 0 in every band.
func writeScene(t *testing.T, store *storage.Manager, date string, nodata ...int) storage.Artifacts {
	t.Helper()
	id := scene.NewID("S2A", day(date), s2Bands)
	r := raster.New(3, 3, raster.GeoInfo{EPSG: 32632, Transform: [6]float64{600000, 10, 0, 5200000, 0, -10}})
	base := map[string]float64{"B02": 300, "B03": 600, "B04": 400}
	for _, name := range s2Bands {
		values := make([]float64, 9)
		for p := range values {
			if v, ok := base[name]; ok {
				values[p] = v
			} else {
				values[p] = 1000 + 200*float64(p)
			}
		}
		for _, p := range nodata {
			values[p] = 0
		}
		b, err := r.AddBand(name, values)
		require.NoError(t, err)
		b.Nodata, b.HasNodata = 0, true
	}
	a := store.Artifacts(id)
	require.NoError(t, raster.Write(a.Reflectance, r, raster.WriteOptions{}))
	return a
}

func TestInversionProcessorEndToEnd(t *testing.T) {
	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)
	cfg := testConfig(t)
	cfg.Output.Quicklook = true

	model := &linearModel{}
	p, err := ProcessorFromConfig(cfg, store, model, nil)
	require.NoError(t, err)

	a := writeScene(t, store, "2023-06-03", 0)
	outcome, err := p.Process(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeInverted, outcome)
	assert.Equal(t, 1, model.calls)
	assert.True(t, a.HasLUT())
	require.True(t, a.HasTraits())

	traits, err := raster.Read(a.Traits)
	require.NoError(t, err)
	assert.Equal(t, []string{"lai", "cab"}, traits.BandNames())
	assert.Equal(t, 32632, traits.Geo.EPSG)
	lai, _ := traits.Band("lai")
	assert.Equal(t, float64(inversion.TraitNodata), lai.Values[0], "masked pixel holds nodata")
	assert.Greater(t, lai.Values[8], lai.Values[1], "brighter NIR retrieves more leaf area")

	stem := a.ID.Key()
	_, err = os.Stat(filepath.Join(store.Dir(), quicklook.DirName, stem+"_lai.png"))
	assert.NoError(t, err)

	// the cached table is reused for a second inversion of the same scene
	require.NoError(t, os.Remove(a.Traits))
	_, err = p.Process(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 1, model.calls)
}

func TestInversionProcessorAllMaskedScene(t *testing.T) {
	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)

	p, err := ProcessorFromConfig(testConfig(t), store, &linearModel{}, nil)
	require.NoError(t, err)

	a := writeScene(t, store, "2023-06-03", 0, 1, 2, 3, 4, 5, 6, 7, 8)
	outcome, err := p.Process(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeSkipped, outcome)
	assert.True(t, a.HasTraits(), "empty trait raster is still written")
}

func TestSchedulerWithInversionProcessor(t *testing.T) {
	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)
	writeScene(t, store, "2023-06-03", 4)
	writeScene(t, store, "2023-06-09")

	model := &linearModel{}
	p, err := ProcessorFromConfig(testConfig(t), store, model, nil)
	require.NoError(t, err)

	s, err := New(Options{
		Store:     store,
		Source:    &fakeSource{store: store},
		Processor: p,
		Clock:     fixedClock("2023-07-01"),
	})
	require.NoError(t, err)

	req := june("2023-06-01", "2023-06-10")
	result, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 2, result.Inverted)
	assert.Equal(t, 2, model.calls)

	again, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyCovered, again.Status)
	assert.Equal(t, 2, model.calls, "no forward model call on re-run")

	pending, err := store.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSchedulerToleratesUnmappedPlatform(t *testing.T) {
	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)
	valid := writeScene(t, store, "2023-06-03")

	data, err := os.ReadFile(valid.Reflectance)
	require.NoError(t, err)
	stray := store.Artifacts(scene.NewID("PLEIADES", day("2023-06-04"), s2Bands))
	require.NoError(t, os.WriteFile(stray.Reflectance, data, 0644))

	model := &linearModel{}
	p, err := ProcessorFromConfig(testConfig(t), store, model, nil)
	require.NoError(t, err)

	s, err := New(Options{
		Store:     store,
		Source:    &fakeSource{store: store},
		Processor: p,
		Clock:     fixedClock("2023-07-01"),
	})
	require.NoError(t, err)

	result, err := s.Run(context.Background(), june("2023-06-01", "2023-06-10"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, result.Inverted)
	assert.Equal(t, 2, result.Failed, "the unmapped scene fails in both windows")
	assert.Equal(t, 1, model.calls)
	assert.True(t, valid.HasTraits())
	assert.False(t, stray.HasTraits())
	assert.True(t, s.Checkpoints().IsComplete())
}

func TestProcessorFromConfigErrors(t *testing.T) {
	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Monitor.Platform = "Spot"
	_, err = ProcessorFromConfig(cfg, store, &linearModel{}, nil)
	assert.True(t, glaierrors.IsConfiguration(err))

	cfg = testConfig(t)
	cfg.LUT.RTMParams = filepath.Join(t.TempDir(), "missing.csv")
	_, err = ProcessorFromConfig(cfg, store, &linearModel{}, nil)
	assert.True(t, glaierrors.IsConfiguration(err))
}

func TestTemplateFromConfig(t *testing.T) {
	platform, ok := scene.LookupPlatform("LandsatC2L2")
	require.True(t, ok)

	cfg := config.DefaultConfig()
	tmpl := TemplateFromConfig(cfg, platform)
	assert.Equal(t, platform.LUTBands, tmpl.LUTBands)
	assert.Equal(t, platform.RasterBands, tmpl.SRFBands)
	assert.Equal(t, platform.RasterBands, tmpl.DefaultBandNames)
	assert.Equal(t, inversion.Scaling{Scale: 0.0000275, Offset: -0.2}, tmpl.Scaling)
	assert.Equal(t, []string{"lai", "cab"}, tmpl.Traits)

	cfg.Inversion.LUTBands = []string{"B04", "B08"}
	cfg.Inversion.SRFBands = []string{"red", "nir08"}
	tmpl = TemplateFromConfig(cfg, platform)
	assert.Equal(t, []string{"B04", "B08"}, tmpl.LUTBands)
	assert.Equal(t, []string{"red", "nir08"}, tmpl.SRFBands)
}
