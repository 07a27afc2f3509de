package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"glaiprocessor/internal/ledger"
	"glaiprocessor/pkg/catalog"
	"glaiprocessor/pkg/checkpoint"
	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/logger"
	"glaiprocessor/pkg/scene"
	"glaiprocessor/pkg/storage"
)

const dateLayout = "2006-01-02"

// Status is how a run ended
type Status string

const (
	// StatusCompleted means the last sub-window reached the requested end
	// and the completion marker was written
	StatusCompleted Status = "completed"
	// StatusDeferred means the next sub-window starts after today
	StatusDeferred Status = "deferred"
	// StatusAlreadyCovered means the checkpoint is already at or past the
	// requested end
	StatusAlreadyCovered Status = "already_covered"
	// StatusFailed is recorded when a run aborts with an error
	StatusFailed Status = "failed"
)

// Window is an inclusive range of acquisition dates
type Window = scene.Window

// Request is the time window a run should cover
type Request struct {
	Start         time.Time
	End           time.Time
	IncrementDays int
}

func (r Request) validate() error {
	if r.IncrementDays < 1 {
		return glaierrors.Newf(glaierrors.KindConfiguration, "scheduler.run",
			"temporal increment must be at least one day, got %d", r.IncrementDays)
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return glaierrors.New(glaierrors.KindConfiguration, "scheduler.run", "start and end dates are required")
	}
	if truncateDay(r.End).Before(truncateDay(r.Start)) {
		return glaierrors.Newf(glaierrors.KindConfiguration, "scheduler.run",
			"end %s is before start %s", r.End.Format(dateLayout), r.Start.Format(dateLayout))
	}
	return nil
}

// maxIterations bounds the window loop starting at from. Every iteration
// moves the window start forward by at least one day, so the bound is never
// reached unless the checkpoint misbehaves.
func (r Request) maxIterations(from time.Time) int {
	first := truncateDay(r.Start)
	if from.Before(first) {
		first = from
	}
	span := truncateDay(r.End).Sub(first).Hours() / 24
	if span < 0 {
		span = 0
	}
	return int(math.Ceil(span/float64(r.IncrementDays))) + 2
}

// Result describes what a run did
type Result struct {
	RunID  string
	Status Status
	// Windows lists the sub-windows processed, in order
	Windows []Window
	// Checkpoint is the persisted date after the run
	Checkpoint time.Time
	Inverted   int
	Skipped    int
	Failed     int
}

// Options configures a Scheduler
type Options struct {
	Store     *storage.Manager
	Source    catalog.SceneSource
	Processor Processor
	AOI       *catalog.AOI
	// Feature is the AOI file path recorded in provenance
	Feature string
	// Recorder is optional
	Recorder Recorder
	// Clock defaults to time.Now
	Clock  func() time.Time
	Logger logger.Logger
}

// Scheduler runs the window loop of one monitored directory
type Scheduler struct {
	store       *storage.Manager
	source      catalog.SceneSource
	processor   Processor
	recorder    Recorder
	checkpoints *checkpoint.Manager
	aoi         *catalog.AOI
	feature     string
	now         func() time.Time
	logger      logger.Logger
}

// New creates a scheduler
func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, errors.New("scheduler: storage manager is required")
	}
	if opts.Source == nil {
		return nil, errors.New("scheduler: scene source is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("scheduler: processor is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithField("component", "scheduler")

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		store:       opts.Store,
		source:      opts.Source,
		processor:   opts.Processor,
		recorder:    opts.Recorder,
		checkpoints: checkpoint.NewManager(opts.Store.Dir(), log, checkpoint.WithClock(now)),
		aoi:         opts.AOI,
		feature:     opts.Feature,
		now:         now,
		logger:      log,
	}, nil
}

// Checkpoints returns the checkpoint manager of the monitored directory
func (s *Scheduler) Checkpoints() *checkpoint.Manager {
	return s.checkpoints
}

// Run advances the checkpoint towards req.End. It holds the directory lock
// for its whole duration.
func (s *Scheduler) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	lock, err := acquireLock(s.store.Dir())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.WithError(err).Warn("Failed to release directory lock")
		}
	}()

	result := &Result{RunID: uuid.NewString()}
	log := s.logger.WithField("run_id", result.RunID)
	started := s.now()

	log.WithFields(map[string]interface{}{
		"dir":       s.store.Dir(),
		"start":     req.Start.Format(dateLayout),
		"end":       req.End.Format(dateLayout),
		"increment": req.IncrementDays,
	}).Info("Starting monitor run")

	s.record(log, "start run", func(r Recorder) error {
		return r.StartRun(ctx, ledger.Run{
			ID:             result.RunID,
			StartedAt:      started,
			RequestedStart: truncateDay(req.Start),
			RequestedEnd:   truncateDay(req.End),
			IncrementDays:  req.IncrementDays,
		})
	})

	runErr := s.loop(ctx, req, result, log)

	status := string(result.Status)
	if runErr != nil {
		status = string(StatusFailed)
	}
	// The run may have been cancelled; the ledger row is still closed.
	s.record(log, "finish run", func(r Recorder) error {
		return r.FinishRun(context.WithoutCancel(ctx), result.RunID, status, result.Checkpoint, runErr)
	})

	if runErr != nil {
		log.WithError(runErr).WithField("kind", glaierrors.KindOf(runErr)).Error("Monitor run failed")
		return result, runErr
	}

	logger.LogMetrics(log, "monitor_run", map[string]interface{}{
		"status":     status,
		"windows":    len(result.Windows),
		"inverted":   result.Inverted,
		"skipped":    result.Skipped,
		"failed":     result.Failed,
		"checkpoint": formatDate(result.Checkpoint),
		"duration":   s.now().Sub(started).String(),
	})
	return result, nil
}

func (s *Scheduler) loop(ctx context.Context, req Request, result *Result, log logger.Logger) error {
	start := truncateDay(req.Start)
	end := truncateDay(req.End)
	increment := req.IncrementDays
	limit := 0

	for i := 0; ; i++ {
		if i > 0 && i >= limit {
			return glaierrors.Newf(glaierrors.KindUnknown, "scheduler.run",
				"window loop did not terminate after %d iterations", limit)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		last, err := s.checkpoints.LoadOrDefault(start)
		if err != nil {
			return err
		}
		result.Checkpoint = last

		windowStart := last.AddDate(0, 0, 1)
		if i == 0 {
			limit = req.maxIterations(windowStart)
		}
		today := truncateDay(s.now())

		if windowStart.After(today) {
			log.WithFields(map[string]interface{}{
				"window_start": windowStart.Format(dateLayout),
				"today":        today.Format(dateLayout),
			}).Info("Next window starts in the future, nothing to do yet")
			result.Status = StatusDeferred
			return nil
		}
		if windowStart.After(end) {
			log.WithFields(map[string]interface{}{
				"checkpoint":    last.Format(dateLayout),
				"requested_end": end.Format(dateLayout),
			}).Info("Requested window already covered")
			result.Status = StatusAlreadyCovered
			return nil
		}

		windowEnd := windowStart.AddDate(0, 0, increment)
		if windowEnd.After(end) {
			windowEnd = end
		}
		window := Window{Start: windowStart, End: windowEnd}
		logger.LogWindow(log, windowStart, windowEnd, end)

		if err := s.fetch(ctx, window, result, log); err != nil {
			return err
		}
		if err := s.processPending(ctx, result, log); err != nil {
			return err
		}

		saved, err := s.checkpoints.Save(windowEnd)
		if err != nil {
			return err
		}
		result.Checkpoint = saved
		result.Windows = append(result.Windows, window)

		if !windowEnd.Before(end) {
			if err := s.checkpoints.MarkComplete(); err != nil {
				return err
			}
			result.Status = StatusCompleted
			return nil
		}
	}
}

// fetch materialises the scenes of one window. Only configuration errors and
// cancellation end the run.
func (s *Scheduler) fetch(ctx context.Context, w Window, result *Result, log logger.Logger) error {
	report, err := s.source.Fetch(ctx, catalog.Query{Window: w, AOI: s.aoi, Feature: s.feature})

	rec := ledger.WindowRecord{Start: w.Start, End: w.End}
	if report != nil {
		rec.Fetched = len(report.Scenes)
	}
	if err != nil {
		rec.FetchError = err.Error()
	}
	s.record(log, "record window", func(r Recorder) error {
		return r.RecordWindow(ctx, result.RunID, rec)
	})

	switch {
	case err == nil:
		return nil
	case glaierrors.IsConfiguration(err):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		log.WithError(err).WithFields(map[string]interface{}{
			"window": w.String(),
			"kind":   glaierrors.KindOf(err),
		}).Warn("Scene fetch failed, continuing with scenes on disk")
		return nil
	}
}

// processPending inverts every scene without a trait raster, including
// scenes left over from earlier windows that failed before.
func (s *Scheduler) processPending(ctx context.Context, result *Result, log logger.Logger) error {
	pending, err := s.store.Pending()
	if err != nil {
		return fmt.Errorf("list pending scenes: %w", err)
	}

	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := a.ID.Key()
		began := s.now()
		outcome, err := s.processor.Process(ctx, a)
		if err != nil {
			if glaierrors.IsConfiguration(err) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			outcome = ledger.OutcomeFailed
		}

		switch outcome {
		case ledger.OutcomeInverted:
			result.Inverted++
		case ledger.OutcomeSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
		logger.LogSceneOutcome(log, key, string(outcome), err)

		rec := ledger.SceneRecord{Scene: key, Outcome: outcome, Duration: s.now().Sub(began)}
		if err != nil {
			rec.Error = err.Error()
		}
		s.record(log, "record scene", func(r Recorder) error {
			return r.RecordScene(ctx, result.RunID, rec)
		})
	}
	return nil
}

// record runs fn against the recorder, if any. The ledger is observational
// so its failures are only logged.
func (s *Scheduler) record(log logger.Logger, what string, fn func(Recorder) error) {
	if s.recorder == nil {
		return
	}
	if err := fn(s.recorder); err != nil {
		log.WithError(err).WithField("action", what).Warn("Ledger update failed")
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
