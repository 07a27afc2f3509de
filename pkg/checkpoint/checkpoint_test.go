package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/logger"
)

func date(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func fixedClock(s string) func() time.Time {
	return func() time.Time { return date(s).Add(15 * time.Hour) }
}

func TestCheckpointManager(t *testing.T) {
	t.Run("DefaultsToDayBeforeStart", func(t *testing.T) {
		mgr := NewManager(t.TempDir(), logger.NewNopLogger())

		got, err := mgr.LoadOrDefault(date("2023-06-01"))
		if err != nil {
			t.Fatalf("Failed to load checkpoint: %v", err)
		}
		if !got.Equal(date("2023-05-31")) {
			t.Errorf("Expected 2023-05-31, got %s", got.Format(dateLayout))
		}
		if mgr.Exists() {
			t.Error("Loading must not create the checkpoint file")
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		dir := t.TempDir()
		mgr := NewManager(dir, logger.NewNopLogger(), WithClock(fixedClock("2024-01-01")))

		saved, err := mgr.Save(date("2023-06-08"))
		if err != nil {
			t.Fatalf("Failed to save checkpoint: %v", err)
		}
		if !saved.Equal(date("2023-06-08")) {
			t.Errorf("Expected saved date 2023-06-08, got %s", saved.Format(dateLayout))
		}

		raw, err := os.ReadFile(filepath.Join(dir, FileName))
		if err != nil {
			t.Fatalf("Failed to read checkpoint file: %v", err)
		}
		if string(raw) != "2023-06-08" {
			t.Errorf("Expected file content 2023-06-08, got %q", raw)
		}

		got, err := mgr.LoadOrDefault(date("2023-01-01"))
		if err != nil {
			t.Fatalf("Failed to load checkpoint: %v", err)
		}
		if !got.Equal(date("2023-06-08")) {
			t.Errorf("Expected 2023-06-08, got %s", got.Format(dateLayout))
		}

		if _, err := os.Stat(filepath.Join(dir, FileName+".tmp")); !os.IsNotExist(err) {
			t.Error("Temporary file should not remain after save")
		}
	})

	t.Run("ClampsFutureDates", func(t *testing.T) {
		mgr := NewManager(t.TempDir(), logger.NewNopLogger(), WithClock(fixedClock("2023-06-05")))

		saved, err := mgr.Save(date("2023-06-10"))
		if err != nil {
			t.Fatalf("Failed to save checkpoint: %v", err)
		}
		if !saved.Equal(date("2023-06-05")) {
			t.Errorf("Expected clamp to 2023-06-05, got %s", saved.Format(dateLayout))
		}
	})

	t.Run("TrimsWhitespace", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, FileName), []byte("2022-09-30\n"), 0644); err != nil {
			t.Fatalf("Failed to write checkpoint: %v", err)
		}
		got, ok, err := NewManager(dir, nil).Load()
		if err != nil || !ok {
			t.Fatalf("Expected checkpoint, got ok=%v err=%v", ok, err)
		}
		if !got.Equal(date("2022-09-30")) {
			t.Errorf("Expected 2022-09-30, got %s", got.Format(dateLayout))
		}
	})

	t.Run("CorruptCheckpoint", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, FileName), []byte("yesterday"), 0644); err != nil {
			t.Fatalf("Failed to write checkpoint: %v", err)
		}
		_, _, err := NewManager(dir, nil).Load()
		if err == nil {
			t.Fatal("Expected error for corrupt checkpoint")
		}
		if !glaierrors.IsDataQuality(err) {
			t.Errorf("Expected data quality error, got %v", err)
		}
	})

	t.Run("CompletionMarker", func(t *testing.T) {
		dir := t.TempDir()
		mgr := NewManager(dir, logger.NewNopLogger())
		if mgr.IsComplete() {
			t.Fatal("Fresh directory should not be complete")
		}
		if err := mgr.MarkComplete(); err != nil {
			t.Fatalf("Failed to mark complete: %v", err)
		}
		raw, err := os.ReadFile(filepath.Join(dir, CompleteFileName))
		if err != nil {
			t.Fatalf("Failed to read marker: %v", err)
		}
		if string(raw) != "complete" {
			t.Errorf("Expected marker content complete, got %q", raw)
		}

		state, err := mgr.State()
		if err != nil {
			t.Fatalf("Failed to read state: %v", err)
		}
		if !state.Complete || state.Exists {
			t.Errorf("Unexpected state %+v", state)
		}
	})
}
