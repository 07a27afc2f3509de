package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glaiprocessor/internal/ledger"
	"glaiprocessor/pkg/catalog"
	"glaiprocessor/pkg/checkpoint"
	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/logger"
	"glaiprocessor/pkg/scene"
	"glaiprocessor/pkg/storage"
)

var s2Bands = []string{"B02", "B03", "B04", "B08"}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func key(platform, date string) string {
	return scene.NewID(platform, day(date), s2Bands).Key()
}

func fixedClock(s string) func() time.Time {
	now := day(s).Add(10 * time.Hour)
	return func() time.Time { return now }
}

// fakeSource writes a placeholder raster for every acquisition date inside
// the queried window
type fakeSource struct {
	store   *storage.Manager
	dates   []time.Time
	queries []catalog.Query
	err     error
}

func (f *fakeSource) Fetch(ctx context.Context, q catalog.Query) (*catalog.FetchReport, error) {
	f.queries = append(f.queries, q)
	report := &catalog.FetchReport{Window: q.Window}
	if f.err != nil {
		return report, f.err
	}
	for _, d := range f.dates {
		if !q.Window.Contains(d) {
			continue
		}
		id := scene.NewID("S2A", d, s2Bands)
		report.Matched++
		report.Scenes = append(report.Scenes, id)
		if f.store.Exists(id.ReflectanceName()) {
			report.Existing++
			continue
		}
		if err := f.store.WriteFile(id.ReflectanceName(), []byte("reflectance")); err != nil {
			return report, err
		}
		report.Downloaded++
	}
	return report, nil
}

// countingProcessor writes a placeholder trait raster per scene
type countingProcessor struct {
	calls map[string]int
	fail  func(key string, attempt int) error
}

func newCountingProcessor() *countingProcessor {
	return &countingProcessor{calls: make(map[string]int)}
}

func (p *countingProcessor) Process(ctx context.Context, a storage.Artifacts) (ledger.Outcome, error) {
	k := a.ID.Key()
	p.calls[k]++
	if p.fail != nil {
		if err := p.fail(k, p.calls[k]); err != nil {
			return ledger.OutcomeFailed, err
		}
	}
	if err := os.WriteFile(a.Traits, []byte("traits"), 0644); err != nil {
		return ledger.OutcomeFailed, err
	}
	return ledger.OutcomeInverted, nil
}

func (p *countingProcessor) total() int {
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

type fixture struct {
	store     *storage.Manager
	source    *fakeSource
	processor *countingProcessor
	log       *logger.TestLogger
	sched     *Scheduler
}

func newFixture(t *testing.T, today string, dates ...string) *fixture {
	t.Helper()
	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		store:     store,
		source:    &fakeSource{store: store},
		processor: newCountingProcessor(),
		log:       logger.NewTestLogger(),
	}
	for _, d := range dates {
		f.source.dates = append(f.source.dates, day(d))
	}
	f.sched = f.newScheduler(t, today, nil)
	return f
}

func (f *fixture) newScheduler(t *testing.T, today string, rec Recorder) *Scheduler {
	t.Helper()
	s, err := New(Options{
		Store:     f.store,
		Source:    f.source,
		Processor: f.processor,
		Feature:   "field.geojson",
		Recorder:  rec,
		Clock:     fixedClock(today),
		Logger:    f.log,
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) checkpoint(t *testing.T) (time.Time, bool) {
	t.Helper()
	date, ok, err := f.sched.Checkpoints().Load()
	require.NoError(t, err)
	return date, ok
}

func june(start, end string) Request {
	return Request{Start: day(start), End: day(end), IncrementDays: 7}
}

func TestRunProcessesExactWindows(t *testing.T) {
	f := newFixture(t, "2023-07-01", "2023-06-03", "2023-06-09")

	result, err := f.sched.Run(context.Background(), june("2023-06-01", "2023-06-10"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, []Window{
		{Start: day("2023-06-01"), End: day("2023-06-08")},
		{Start: day("2023-06-09"), End: day("2023-06-10")},
	}, result.Windows)
	assert.Equal(t, day("2023-06-10"), result.Checkpoint)
	assert.Equal(t, 2, result.Inverted)
	assert.NotEmpty(t, result.RunID)

	require.Len(t, f.source.queries, 2)
	assert.Equal(t, "field.geojson", f.source.queries[0].Feature)
	assert.Equal(t, result.Windows[1], f.source.queries[1].Window)

	date, ok := f.checkpoint(t)
	require.True(t, ok)
	assert.Equal(t, day("2023-06-10"), date)
	assert.True(t, f.sched.Checkpoints().IsComplete())

	_, err = os.Stat(filepath.Join(f.store.Dir(), LockFileName))
	assert.NoError(t, err, "lock file stays behind, only the lock is released")
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t, "2023-07-01", "2023-06-03", "2023-06-09")
	req := june("2023-06-01", "2023-06-10")

	_, err := f.sched.Run(context.Background(), req)
	require.NoError(t, err)
	fetches, processed := len(f.source.queries), f.processor.total()

	second, err := f.sched.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StatusAlreadyCovered, second.Status)
	assert.Empty(t, second.Windows)
	assert.Equal(t, day("2023-06-10"), second.Checkpoint)
	assert.Equal(t, fetches, len(f.source.queries), "no fetch on second run")
	assert.Equal(t, processed, f.processor.total(), "no inversion on second run")
}

func TestRunDefersFutureStart(t *testing.T) {
	f := newFixture(t, "2023-05-15", "2023-06-03")

	result, err := f.sched.Run(context.Background(), june("2023-06-01", "2023-06-10"))
	require.NoError(t, err)

	assert.Equal(t, StatusDeferred, result.Status)
	assert.Empty(t, result.Windows)
	assert.Empty(t, f.source.queries)
	assert.Zero(t, f.processor.total())

	_, ok := f.checkpoint(t)
	assert.False(t, ok, "checkpoint untouched")
	assert.False(t, f.sched.Checkpoints().IsComplete())
}

func TestRunClampsCheckpointToToday(t *testing.T) {
	f := newFixture(t, "2023-06-05", "2023-06-03")

	result, err := f.sched.Run(context.Background(), june("2023-06-01", "2023-06-30"))
	require.NoError(t, err)

	assert.Equal(t, StatusDeferred, result.Status)
	require.Len(t, result.Windows, 1)
	assert.Equal(t, day("2023-06-08"), result.Windows[0].End)
	assert.Equal(t, day("2023-06-05"), result.Checkpoint)
	assert.False(t, f.sched.Checkpoints().IsComplete())

	// a week later the run picks up the day after the clamped checkpoint
	later := f.newScheduler(t, "2023-06-12", nil)
	result, err = later.Run(context.Background(), june("2023-06-01", "2023-06-30"))
	require.NoError(t, err)
	require.NotEmpty(t, result.Windows)
	assert.Equal(t, day("2023-06-06"), result.Windows[0].Start)
	assert.Equal(t, day("2023-06-12"), result.Checkpoint)
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	f := newFixture(t, "2023-07-01", "2023-06-03", "2023-06-09")
	_, err := f.sched.Checkpoints().Save(day("2023-06-08"))
	require.NoError(t, err)

	result, err := f.sched.Run(context.Background(), june("2023-06-01", "2023-06-10"))
	require.NoError(t, err)

	assert.Equal(t, []Window{{Start: day("2023-06-09"), End: day("2023-06-10")}}, result.Windows)
	assert.Equal(t, 1, result.Inverted)
	assert.Zero(t, f.processor.calls[key("S2A", "2023-06-03")], "scene before the checkpoint is not fetched")
}

func TestRunRetriesFailedScenes(t *testing.T) {
	f := newFixture(t, "2023-07-01", "2023-06-03", "2023-06-09")
	f.processor.fail = func(k string, attempt int) error {
		if k == key("S2A", "2023-06-03") && attempt == 1 {
			return glaierrors.New(glaierrors.KindTransient, "lut.forward", "forward model unavailable")
		}
		return nil
	}

	result, err := f.sched.Run(context.Background(), june("2023-06-01", "2023-06-10"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, result.Inverted)
	assert.Equal(t, 2, f.processor.calls[key("S2A", "2023-06-03")], "failed scene is picked up by the next window")
	assert.True(t, f.log.HasMessage("Scene processing failed"))
	assert.True(t, f.store.Artifacts(scene.NewID("S2A", day("2023-06-03"), s2Bands)).HasTraits())
}

func TestRunFailedSceneStillAdvancesCheckpoint(t *testing.T) {
	f := newFixture(t, "2023-07-01", "2023-06-03")
	f.processor.fail = func(string, int) error {
		return glaierrors.New(glaierrors.KindDataQuality, "inversion.invert", "malformed raster")
	}

	result, err := f.sched.Run(context.Background(), june("2023-06-01", "2023-06-10"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, day("2023-06-10"), result.Checkpoint)
	assert.Equal(t, 2, result.Failed, "retried once per window")
}

func TestRunContinuesAfterFetchError(t *testing.T) {
	f := newFixture(t, "2023-07-01")
	f.source.err = glaierrors.HTTP("catalog.search", 503, "unavailable")
	require.NoError(t, f.store.WriteFile(scene.NewID("S2B", day("2023-05-20"), s2Bands).ReflectanceName(), []byte("x")))

	result, err := f.sched.Run(context.Background(), june("2023-06-01", "2023-06-10"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, f.processor.calls[key("S2B", "2023-05-20")], "scenes on disk are still processed")
	assert.True(t, f.log.HasMessage("Scene fetch failed, continuing with scenes on disk"))
}

func TestRunPropagatesConfigurationErrors(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		f := newFixture(t, "2023-07-01")
		f.source.err = glaierrors.New(glaierrors.KindConfiguration, "catalog.search", "unknown collection")

		_, err := f.sched.Run(context.Background(), june("2023-06-01", "2023-06-10"))
		require.Error(t, err)
		assert.True(t, glaierrors.IsConfiguration(err))

		_, ok := f.checkpoint(t)
		assert.False(t, ok, "checkpoint is not advanced")
	})

	t.Run("process", func(t *testing.T) {
		f := newFixture(t, "2023-07-01", "2023-06-03")
		f.processor.fail = func(string, int) error {
			return glaierrors.New(glaierrors.KindConfiguration, "inversion.invert", "band B8A missing")
		}

		_, err := f.sched.Run(context.Background(), june("2023-06-01", "2023-06-10"))
		require.Error(t, err)
		assert.True(t, glaierrors.IsConfiguration(err))
		assert.False(t, f.sched.Checkpoints().IsComplete())
	})
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t, "2023-07-01")

	_, err := f.sched.Run(context.Background(), Request{Start: day("2023-06-01"), End: day("2023-06-10")})
	assert.True(t, glaierrors.IsConfiguration(err))

	_, err = f.sched.Run(context.Background(), june("2023-06-10", "2023-06-01"))
	assert.True(t, glaierrors.IsConfiguration(err))

	_, err = f.sched.Run(context.Background(), Request{IncrementDays: 7})
	assert.True(t, glaierrors.IsConfiguration(err))
}

func TestRunCorruptCheckpoint(t *testing.T) {
	f := newFixture(t, "2023-07-01")
	require.NoError(t, f.store.WriteFile(checkpoint.FileName, []byte("yesterday")))

	_, err := f.sched.Run(context.Background(), june("2023-06-01", "2023-06-10"))
	require.Error(t, err)
	assert.True(t, glaierrors.IsDataQuality(err))
	assert.Empty(t, f.source.queries)
}

func TestRunFailsFastWhenLocked(t *testing.T) {
	f := newFixture(t, "2023-07-01", "2023-06-03")

	held := flock.New(filepath.Join(f.store.Dir(), LockFileName))
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.sched.Run(context.Background(), june("2023-06-01", "2023-06-10"))
	require.Error(t, err)
	assert.True(t, glaierrors.IsTransient(err))
	assert.Empty(t, f.source.queries)

	require.NoError(t, held.Unlock())
	result, err := f.sched.Run(context.Background(), june("2023-06-01", "2023-06-10"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, "2023-07-01", "2023-06-03")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sched.Run(ctx, june("2023-06-01", "2023-06-10"))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, f.source.queries)
}

func TestRunRecordsLedger(t *testing.T) {
	f := newFixture(t, "2023-07-01", "2023-06-03", "2023-06-09")
	f.processor.fail = func(k string, attempt int) error {
		if k == key("S2A", "2023-06-09") {
			return errors.New("forward model timeout")
		}
		return nil
	}

	store, err := ledger.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	sched := f.newScheduler(t, "2023-07-01", store)
	result, err := sched.Run(context.Background(), june("2023-06-01", "2023-06-10"))
	require.NoError(t, err)

	runs, err := store.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].ID)
	assert.Equal(t, string(StatusCompleted), runs[0].Status)
	assert.Equal(t, day("2023-06-10"), runs[0].Checkpoint)
	assert.Equal(t, 2, runs[0].Windows)
	assert.Equal(t, 2, runs[0].Scenes)
	assert.Equal(t, 1, runs[0].Failed)

	windows, err := store.Windows(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, 1, windows[0].Fetched)

	latest, err := store.LatestOutcomes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeInverted, latest[key("S2A", "2023-06-03")].Outcome)
	assert.Equal(t, ledger.OutcomeFailed, latest[key("S2A", "2023-06-09")].Outcome)
	assert.Equal(t, "forward model timeout", latest[key("S2A", "2023-06-09")].Error)
}

func TestRunRecordsFailedRun(t *testing.T) {
	f := newFixture(t, "2023-07-01")
	f.source.err = glaierrors.New(glaierrors.KindConfiguration, "catalog.search", "unknown collection")

	store, err := ledger.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, err = f.newScheduler(t, "2023-07-01", store).Run(context.Background(), june("2023-06-01", "2023-06-10"))
	require.Error(t, err)

	runs, err := store.RecentRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, string(StatusFailed), runs[0].Status)
	assert.Contains(t, runs[0].Error, "unknown collection")
}

func TestMaxIterations(t *testing.T) {
	req := june("2023-06-01", "2023-06-10")
	assert.Equal(t, 4, req.maxIterations(day("2023-06-01")))
	assert.Equal(t, 2, Request{Start: day("2023-06-01"), End: day("2023-06-01"), IncrementDays: 7}.maxIterations(day("2023-06-01")))
	// an older checkpoint widens the bound
	assert.Equal(t, 7, req.maxIterations(day("2023-05-06")))
}

func TestNewValidatesOptions(t *testing.T) {
	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)

	_, err = New(Options{Source: &fakeSource{}, Processor: newCountingProcessor()})
	assert.Error(t, err)
	_, err = New(Options{Store: store, Processor: newCountingProcessor()})
	assert.Error(t, err)
	_, err = New(Options{Store: store, Source: &fakeSource{}})
	assert.Error(t, err)
}
