package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"glaiprocessor/pkg/config"
)

type recordingSender struct {
	titles []string
}

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	return errors.New("no notification daemon")
}

func notificationConfig(kind string) config.NotificationConfig {
	return config.NotificationConfig{Enabled: true, OnComplete: true, OnError: true, NotificationType: kind}
}

func TestNotifierTerminal(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifier(notificationConfig("terminal"), &buf)
	assert.Nil(t, n.sender)

	n.RunFinished("Monitor run completed", "2 scenes inverted")
	n.RunFailed("Monitor run failed", errors.New("unknown collection"))

	out := buf.String()
	assert.Contains(t, out, "Monitor run completed: 2 scenes inverted")
	assert.Contains(t, out, "Monitor run failed: unknown collection")
	assert.NotContains(t, out, "\033[", "no color codes outside a terminal")
}

func TestNotifierDesktopSender(t *testing.T) {
	var buf bytes.Buffer
	sender := &recordingSender{}
	n := NewNotifier(notificationConfig("desktop"), &buf).WithSender(sender)

	n.RunFinished("done", "ok")
	n.RunFailed("failed", errors.New("boom"))
	assert.Equal(t, []string{"done", "failed"}, sender.titles)
}

func TestNotifierRespectsSettings(t *testing.T) {
	var buf bytes.Buffer
	cfg := notificationConfig("terminal")
	cfg.OnComplete = false
	n := NewNotifier(cfg, &buf)
	n.RunFinished("done", "ok")
	assert.Empty(t, buf.String())
	n.RunFailed("failed", errors.New("boom"))
	assert.NotEmpty(t, buf.String())

	buf.Reset()
	NewNotifier(notificationConfig("none"), &buf).RunFailed("failed", errors.New("boom"))
	assert.Empty(t, buf.String())

	buf.Reset()
	disabled := notificationConfig("terminal")
	disabled.Enabled = false
	NewNotifier(disabled, &buf).RunFinished("done", "ok")
	assert.Empty(t, buf.String())
}

func TestPrinterWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Info("Checkpoint", "2023-06-10")
	p.Warning("Ledger disabled")
	p.Error("Run failed", "locked")
	assert.Equal(t, "Checkpoint: 2023-06-10\nLedger disabled\nRun failed: locked\n", buf.String())
}

func TestCoverage(t *testing.T) {
	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)

	c := Coverage{Start: start, End: end}
	assert.Equal(t, 10, c.TotalDays())
	assert.Equal(t, 0, c.DoneDays())
	assert.Equal(t, "[░░░░░░░░░░] 0/10 days", c.Bar(10))

	c.Checkpoint = start.AddDate(0, 0, 4)
	assert.Equal(t, 5, c.DoneDays())
	assert.Equal(t, "[█████░░░░░] 5/10 days", c.Bar(10))

	c.Checkpoint = end.AddDate(0, 0, 3)
	assert.Equal(t, 10, c.DoneDays())
	assert.Equal(t, 1.0, c.Fraction())

	c.Checkpoint = start.AddDate(0, 0, -1)
	assert.Equal(t, 0, c.DoneDays())
}
