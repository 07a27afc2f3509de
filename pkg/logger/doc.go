// Package logger provides the structured logging interface used across the
// trait processor.
//
// It wraps zerolog. Output is a colored console stream when stdout is a
// terminal and JSON lines otherwise, so cron and systemd runs produce
// machine-readable logs. Core packages take a Logger through their
// constructors; only the command layer uses the global instance.
//
//	log, err := logger.New(&cfg.Logging)
//	log.WithField("scene", id.Key()).Info("Inverting scene")
//
// NewNopLogger and NewTestLogger are available for tests.
package logger
