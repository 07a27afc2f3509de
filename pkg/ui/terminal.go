// Package ui holds the terminal output of the glai command: colored status
// lines, coverage bars and run notifications.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Banner is printed at the top of interactive runs
const Banner = `
   ____ _        _    ___
  / ___| |      / \  |_ _|
 | |  _| |     / _ \  | |
 | |_| | |___ / ___ \ | |
  \____|_____/_/   \_\___|  canopy trait monitor
`

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		return fmt.Sprintf(colorString, text)
	}
}

// Printer writes status lines, colored only when the target is a terminal
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter creates a printer for w. Color is enabled when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Printer{w: w, color: color}
}

// NewPlainPrinter creates a printer that never emits color codes
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Stdout is the printer used by the package-level helpers
var Stdout = NewPrinter(os.Stdout)

func (p *Printer) paint(fn func(string) string, s string) string {
	if !p.color {
		return s
	}
	return fn(s)
}

// Banner prints the banner
func (p *Printer) Banner() {
	fmt.Fprint(p.w, p.paint(Cyan, Banner))
}

// Info prints "label: value"
func (p *Printer) Info(label, value string) {
	fmt.Fprintf(p.w, "%s: %s\n", p.paint(Cyan, label), p.paint(Yellow, value))
}

// Success prints a success line
func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.w, p.paint(Green, msg))
}

// Warning prints a warning line, with an optional detail
func (p *Printer) Warning(msg string, args ...interface{}) {
	fmt.Fprintln(p.w, p.paint(Yellow, withDetail(msg, args)))
}

// Error prints an error line, with an optional detail
func (p *Printer) Error(msg string, args ...interface{}) {
	fmt.Fprintln(p.w, p.paint(Red, withDetail(msg, args)))
}

// Highlight prints a highlighted line
func (p *Printer) Highlight(msg string) {
	fmt.Fprintln(p.w, p.paint(Magenta, msg))
}

func withDetail(msg string, args []interface{}) string {
	if len(args) > 0 {
		return msg + ": " + fmt.Sprintf("%v", args[0])
	}
	return msg
}

// PrintBanner prints the banner to stdout
func PrintBanner() { Stdout.Banner() }

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) { Stdout.Error(msg, args...) }

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) { Stdout.Success(msg) }

// PrintInfo prints an info message in cyan
func PrintInfo(label string, value string) { Stdout.Info(label, value) }

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) { Stdout.Warning(msg, args...) }

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) { Stdout.Highlight(msg) }
