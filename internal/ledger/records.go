package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	stampLayout = time.RFC3339Nano
)

// StatusRunning marks a run that has started but not finished. A run left in
// this state was interrupted.
const StatusRunning = "running"

// Outcome is what happened to one scene within a run
type Outcome string

const (
	OutcomeInverted Outcome = "inverted"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Run is one invocation of the monitor
type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	RequestedStart time.Time
	RequestedEnd   time.Time
	IncrementDays  int
	Status         string
	Checkpoint     time.Time
	Error          string

	// Filled by RecentRuns
	Windows int
	Scenes  int
	Failed  int
}

// WindowRecord is one fetch window scanned by a run
type WindowRecord struct {
	Start      time.Time
	End        time.Time
	Fetched    int
	FetchError string
}

// SceneRecord is the outcome of one scene within a run
type SceneRecord struct {
	RunID      string
	Scene      string
	Outcome    Outcome
	Error      string
	Duration   time.Duration
	RecordedAt time.Time
}

// StartRun inserts a run in the running state.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	started := run.StartedAt
	if started.IsZero() {
		started = s.now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO runs (id, started_at, requested_start, requested_end, increment_days, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, formatStamp(started), formatDate(run.RequestedStart), formatDate(run.RequestedEnd),
		run.IncrementDays, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stores the final status and checkpoint of a run.
func (s *Store) FinishRun(ctx context.Context, runID, status string, checkpoint time.Time, runErr error) error {
	res, err := s.exec(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, checkpoint = ?, error = ? WHERE id = ?`,
		formatStamp(s.now()), status, nullDate(checkpoint), errText(runErr), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: run not found", runID)
	}
	return nil
}

// RecordWindow appends a scanned window to a run.
func (s *Store) RecordWindow(ctx context.Context, runID string, w WindowRecord) error {
	_, err := s.exec(ctx,
		`INSERT INTO windows (run_id, window_start, window_end, scenes_fetched, fetch_error, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, formatDate(w.Start), formatDate(w.End), w.Fetched, nullString(w.FetchError), formatStamp(s.now()),
	)
	if err != nil {
		return fmt.Errorf("record window for run %s: %w", runID, err)
	}
	return nil
}

// RecordScene appends a scene outcome to a run.
func (s *Store) RecordScene(ctx context.Context, runID string, r SceneRecord) error {
	if r.Scene == "" {
		return errors.New("scene key is required")
	}
	_, err := s.exec(ctx,
		`INSERT INTO scenes (run_id, scene, outcome, error, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, r.Scene, string(r.Outcome), nullString(r.Error), r.Duration.Milliseconds(), formatStamp(s.now()),
	)
	if err != nil {
		return fmt.Errorf("record scene %s: %w", r.Scene, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first, with window and scene counts.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at, r.finished_at, r.requested_start, r.requested_end,
		       r.increment_days, r.status, r.checkpoint, r.error,
		       (SELECT COUNT(1) FROM windows w WHERE w.run_id = r.id),
		       (SELECT COUNT(1) FROM scenes s WHERE s.run_id = r.id),
		       (SELECT COUNT(1) FROM scenes s WHERE s.run_id = r.id AND s.outcome = ?)
		FROM runs r
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?`, string(OutcomeFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run                       Run
			started, reqStart, reqEnd string
			finished, checkpoint      sql.NullString
			runErr                    sql.NullString
		)
		if err := rows.Scan(&run.ID, &started, &finished, &reqStart, &reqEnd,
			&run.IncrementDays, &run.Status, &checkpoint, &runErr,
			&run.Windows, &run.Scenes, &run.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = parseStamp(started)
		run.FinishedAt = parseStamp(finished.String)
		run.RequestedStart = parseDate(reqStart)
		run.RequestedEnd = parseDate(reqEnd)
		run.Checkpoint = parseDate(checkpoint.String)
		run.Error = runErr.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Windows returns the windows scanned by a run in order.
func (s *Store) Windows(ctx context.Context, runID string) ([]WindowRecord, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT window_start, window_end, scenes_fetched, fetch_error FROM windows WHERE run_id = ? ORDER BY id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("query windows: %w", err)
	}
	defer rows.Close()

	var windows []WindowRecord
	for rows.Next() {
		var (
			w          WindowRecord
			start, end string
			fetchErr   sql.NullString
		)
		if err := rows.Scan(&start, &end, &w.Fetched, &fetchErr); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		w.Start = parseDate(start)
		w.End = parseDate(end)
		w.FetchError = fetchErr.String
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// SceneHistory returns every recorded outcome of a scene, oldest first.
func (s *Store) SceneHistory(ctx context.Context, scene string) ([]SceneRecord, error) {
	return s.querySceneRecords(ctx,
		`SELECT run_id, scene, outcome, error, duration_ms, recorded_at FROM scenes WHERE scene = ? ORDER BY id`,
		scene)
}

// LatestOutcomes returns the most recent outcome of every scene ever recorded.
func (s *Store) LatestOutcomes(ctx context.Context) (map[string]SceneRecord, error) {
	records, err := s.querySceneRecords(ctx, `
		SELECT run_id, scene, outcome, error, duration_ms, recorded_at FROM scenes
		WHERE id IN (SELECT MAX(id) FROM scenes GROUP BY scene)`)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]SceneRecord, len(records))
	for _, r := range records {
		latest[r.Scene] = r
	}
	return latest, nil
}

func (s *Store) querySceneRecords(ctx context.Context, query string, args ...any) ([]SceneRecord, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scenes: %w", err)
	}
	defer rows.Close()

	var records []SceneRecord
	for rows.Next() {
		var (
			r        SceneRecord
			outcome  string
			sceneErr sql.NullString
			millis   int64
			recorded string
		)
		if err := rows.Scan(&r.RunID, &r.Scene, &outcome, &sceneErr, &millis, &recorded); err != nil {
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		r.Outcome = Outcome(outcome)
		r.Error = sceneErr.String
		r.Duration = time.Duration(millis) * time.Millisecond
		r.RecordedAt = parseStamp(recorded)
		records = append(records, r)
	}
	return records, rows.Err()
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func formatStamp(t time.Time) string {
	return t.UTC().Format(stampLayout)
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatDate(t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func errText(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}

func parseDate(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseStamp(s string) time.Time {
	t, err := time.Parse(stampLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
