// Package checkpoint persists the progress cursor of a monitored directory.
//
// The cursor is a single plain-text file, latest_scene, holding the last
// acquisition date whose window has been fully processed, formatted as
// YYYY-MM-DD. A run resumes from the day after it. Saves are atomic
// (temporary file, fsync, rename) and never record a date after today.
//
// When the requested window has been covered, a complete.txt marker is
// written next to the cursor.
package checkpoint
