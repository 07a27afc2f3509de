package ui

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
)

// Coverage describes how far a monitored directory has advanced through its
// requested window
type Coverage struct {
	Start      time.Time
	End        time.Time
	Checkpoint time.Time
}

// TotalDays returns the number of days in the requested window
func (c Coverage) TotalDays() int {
	if c.End.Before(c.Start) {
		return 0
	}
	return int(c.End.Sub(c.Start).Hours()/24) + 1
}

// DoneDays returns the number of requested days up to the checkpoint
func (c Coverage) DoneDays() int {
	if c.Checkpoint.IsZero() || c.Checkpoint.Before(c.Start) {
		return 0
	}
	done := int(c.Checkpoint.Sub(c.Start).Hours()/24) + 1
	if total := c.TotalDays(); done > total {
		return total
	}
	return done
}

// Fraction returns the covered share of the window in [0, 1]
func (c Coverage) Fraction() float64 {
	total := c.TotalDays()
	if total == 0 {
		return 0
	}
	return float64(c.DoneDays()) / float64(total)
}

// Bar renders the coverage as a fixed width bar, e.g. "[████░░░░] 12/30 days"
func (c Coverage) Bar(width int) string {
	if width < 1 {
		width = 20
	}
	filled := int(c.Fraction() * float64(width))

	bar := strings.Repeat(ProgressBar, filled) +
		strings.Repeat(ProgressEmpty, width-filled)

	return fmt.Sprintf("[%s] %d/%d days", bar, c.DoneDays(), c.TotalDays())
}
