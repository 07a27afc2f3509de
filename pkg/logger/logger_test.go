package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"glaiprocessor/pkg/config"
)

func TestNew(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "glai.log")

	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{
			name:    "valid config with info level",
			cfg:     &config.LoggingConfig{Level: "info", Format: "auto"},
			wantErr: false,
		},
		{
			name:    "json output with debug level",
			cfg:     &config.LoggingConfig{Level: "debug", Format: "json"},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			cfg:     &config.LoggingConfig{Level: "invalid"},
			wantErr: true,
		},
		{
			name:    "config with file output",
			cfg:     &config.LoggingConfig{Level: "info", File: logFile},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("New() returned nil logger")
			}
		})
	}

	if _, err := os.Stat(logFile); err != nil {
		t.Errorf("expected log file to be created: %v", err)
	}
}

func TestNewWithWriterDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, zerolog.InfoLevel)

	log.Debug("hidden")
	log.Info("visible")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Error("Debug message should be filtered at info level")
	}
	if !strings.Contains(output, `"app":"glai"`) {
		t.Error("app field not found in output")
	}
}

func TestUseConsole(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer f.Close()

	if !useConsole("console", f) {
		t.Error("console format should force console output")
	}
	if useConsole("json", f) {
		t.Error("json format should never use console output")
	}
	if useConsole("auto", f) {
		t.Error("auto format should pick JSON for a regular file")
	}
}

func TestSceneHelpers(t *testing.T) {
	log := NewTestLogger()

	LogSceneOutcome(log, "S2A_2023-06-01_B02-B03", "inversion", nil)
	LogSceneOutcome(log, "S2A_2023-06-02_B02-B03", "lut", &testError{msg: "rtm service unavailable"})

	if !log.HasMessage("Scene processed") {
		t.Error("expected success message")
	}
	errs := log.GetMessagesByLevel("ERROR")
	if len(errs) != 1 {
		t.Fatalf("expected one error message, got %d", len(errs))
	}
	if errs[0].Fields["scene"] != "S2A_2023-06-02_B02-B03" {
		t.Errorf("unexpected scene field: %v", errs[0].Fields["scene"])
	}
	if errs[0].Error == nil {
		t.Error("expected error to be captured")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"fatal", zerolog.FatalLevel, false},
		{"panic", zerolog.PanicLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"invalid", zerolog.InfoLevel, true},
		{"", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseLogLevel() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if level != tt.expected {
				t.Errorf("parseLogLevel() = %v, want %v", level, tt.expected)
			}
		})
	}
}

func newBufferLogger(buf *bytes.Buffer) *zerologLogger {
	zlog := zerolog.New(buf).Level(zerolog.DebugLevel)
	return &zerologLogger{logger: &zlog, fields: make(map[string]interface{})}
}

func TestZerologLoggerOutput(t *testing.T) {
	tests := []struct {
		name string
		log  func(l Logger)
		want []string
	}{
		{
			name: "levels",
			log: func(l Logger) {
				l.Debug("debug message")
				l.Warn("warn message")
			},
			want: []string{`"level":"debug"`, "debug message", `"level":"warn"`, "warn message"},
		},
		{
			name: "single field",
			log:  func(l Logger) { l.WithField("scene", "S2A_2023-06-01_B02-B03").Info("Traits written") },
			want: []string{`"scene":"S2A_2023-06-01_B02-B03"`, "Traits written"},
		},
		{
			name: "typed fields",
			log: func(l Logger) {
				l.WithFields(map[string]interface{}{
					"pixels":   9,
					"masked":   true,
					"fraction": 0.5,
					"elapsed":  2 * time.Second,
					"bands":    []string{"B02", "B03"},
				}).Info("typed")
			},
			want: []string{`"pixels":9`, `"masked":true`, `"fraction":0.5`, `"bands":["B02","B03"]`},
		},
		{
			name: "chained fields",
			log: func(l Logger) {
				l.WithField("run_id", "r1").
					WithFields(map[string]interface{}{"window_start": "2023-06-01"}).
					WithField("stage", "fetch").
					Info("chained")
			},
			want: []string{`"run_id":"r1"`, `"window_start":"2023-06-01"`, `"stage":"fetch"`},
		},
		{
			name: "error",
			log:  func(l Logger) { l.WithError(&testError{msg: "rtm service unavailable"}).Error("LUT build failed") },
			want: []string{`"error":"rtm service unavailable"`, "LUT build failed"},
		},
		{
			name: "inline fields",
			log: func(l Logger) {
				l.InfoWithFields("Scene fetched", map[string]interface{}{"bytes": 2048, "collection": "sentinel-2-l2a"})
			},
			want: []string{`"bytes":2048`, `"collection":"sentinel-2-l2a"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(newBufferLogger(&buf))
			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output %q does not contain %q", buf.String(), want)
				}
			}
		})
	}
}

func TestWithErrorNil(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)
	if l.WithError(nil) != Logger(l) {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestWindowAndMetricsHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	LogWindow(l, start, start.AddDate(0, 0, 7), start.AddDate(0, 0, 9))
	LogMetrics(l, "monitor_run", map[string]interface{}{"inverted": 3})
	LogRequest(l, "POST", "http://rtm/simulate", 503, time.Second)

	output := buf.String()
	for _, want := range []string{
		`"window_start":"2023-06-01"`, `"window_end":"2023-06-08"`, `"requested_end":"2023-06-10"`,
		`"operation":"monitor_run"`, `"inverted":3`,
		`"status_code":503`, "HTTP request server error",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output does not contain %q", want)
		}
	}
}

func TestTestLoggerDerivation(t *testing.T) {
	log := NewTestLogger()
	run := log.WithField("run_id", "r1")
	run.WithError(&testError{msg: "boom"}).WithField("scene", "s1").Warn("Scene failed")
	run.Info("Run finished")

	msgs := log.GetMessages()
	if len(msgs) != 2 {
		t.Fatalf("expected two shared messages, got %d", len(msgs))
	}
	if msgs[0].Error == nil || msgs[0].Fields["run_id"] != "r1" || msgs[0].Fields["scene"] != "s1" {
		t.Errorf("derived logger lost context: %+v", msgs[0])
	}
	if msgs[1].Error != nil || msgs[1].Fields["scene"] != nil {
		t.Errorf("parent logger picked up child context: %+v", msgs[1])
	}
	if !strings.Contains(log.String(), "[WARN] Scene failed") {
		t.Errorf("unexpected rendering: %s", log.String())
	}

	log.Clear()
	if len(log.GetMessages()) != 0 {
		t.Error("Clear should drop captured messages")
	}
}

func TestGlobalLogger(t *testing.T) {
	// Initialize global logger
	cfg := &config.LoggingConfig{
		Level: "debug",
	}

	err := Initialize(cfg)
	if err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}

	// Test global logger functions
	logger := GetLogger()
	if logger == nil {
		t.Error("GetLogger() returned nil")
	}

	// Test convenience functions (just ensure they don't panic)
	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	WithField("key", "value").Info("with field")
	WithFields(map[string]interface{}{"k1": "v1", "k2": "v2"}).Info("with fields")
	WithError(&testError{msg: "test"}).Error("with error")
}

// Helper error type for testing
type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
