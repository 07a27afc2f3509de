package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/logger"
)

const (
	// FileName holds the latest fully processed acquisition date
	FileName = "latest_scene"
	// CompleteFileName marks a monitored directory whose requested window is covered
	CompleteFileName = "complete.txt"

	completeContent = "complete"
	dateLayout      = "2006-01-02"
)

// State summarises the checkpoint of a monitored directory
type State struct {
	Date      time.Time
	Exists    bool
	Complete  bool
	UpdatedAt time.Time
}

// Manager reads and writes the checkpoint of one monitored directory
type Manager struct {
	dir    string
	now    func() time.Time
	logger logger.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the clock used to clamp saved dates
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a checkpoint manager for a monitored directory
func NewManager(dir string, log logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	m := &Manager{
		dir:    dir,
		now:    time.Now,
		logger: log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the checkpoint file path
func (m *Manager) Path() string {
	return filepath.Join(m.dir, FileName)
}

// Load returns the persisted date. ok is false when no checkpoint exists.
func (m *Manager) Load() (date time.Time, ok bool, err error) {
	data, err := os.ReadFile(m.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	token := strings.TrimSpace(string(data))
	date, err = time.Parse(dateLayout, token)
	if err != nil {
		return time.Time{}, false, glaierrors.Newf(glaierrors.KindDataQuality, "checkpoint.load",
			"checkpoint %s holds %q, expected YYYY-MM-DD", m.Path(), token)
	}
	return date, true, nil
}

// LoadOrDefault returns the persisted date, or the day before requestedStart
// when the directory has never been processed
func (m *Manager) LoadOrDefault(requestedStart time.Time) (time.Time, error) {
	date, ok, err := m.Load()
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return truncateDay(requestedStart).AddDate(0, 0, -1), nil
	}
	return date, nil
}

// Save persists date atomically. Dates after today are clamped to today so
// the checkpoint never runs ahead of the calendar.
func (m *Manager) Save(date time.Time) (time.Time, error) {
	date = truncateDay(date)
	today := truncateDay(m.now())
	if date.After(today) {
		m.logger.DebugWithFields("Clamping checkpoint to today", map[string]interface{}{
			"requested": date.Format(dateLayout),
			"today":     today.Format(dateLayout),
		})
		date = today
	}

	if err := writeFileAtomic(m.Path(), []byte(date.Format(dateLayout))); err != nil {
		return time.Time{}, err
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"date": date.Format(dateLayout),
		"path": m.Path(),
	})
	return date, nil
}

// MarkComplete writes the completion marker
func (m *Manager) MarkComplete() error {
	path := filepath.Join(m.dir, CompleteFileName)
	if err := writeFileAtomic(path, []byte(completeContent)); err != nil {
		return err
	}
	m.logger.InfoWithFields("Monitored window complete", map[string]interface{}{
		"marker": path,
	})
	return nil
}

// IsComplete reports whether the completion marker exists
func (m *Manager) IsComplete() bool {
	_, err := os.Stat(filepath.Join(m.dir, CompleteFileName))
	return err == nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.Path())
	return err == nil
}

// State returns the checkpoint summary shown by the status command
func (m *Manager) State() (State, error) {
	date, ok, err := m.Load()
	if err != nil {
		return State{}, err
	}
	state := State{Date: date, Exists: ok, Complete: m.IsComplete()}
	if ok {
		if info, err := os.Stat(m.Path()); err == nil {
			state.UpdatedAt = info.ModTime()
		}
	}
	return state, nil
}

// writeFileAtomic writes data to a temporary file, syncs it and renames it over path
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	// Ensure data is written to disk
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	return nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
