// Package term colors the CLI's view of bridge replies and timer states.
//
// Output stays plain when NO_COLOR is set (https://no-color.org/), when
// --no-color was given, or when stdout is not a terminal.
package term

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	xterm "github.com/charmbracelet/x/term"
)

const (
	sgrReset  = "\x1b[0m"
	sgrDim    = "\x1b[2m"
	sgrRed    = "\x1b[31m"
	sgrGreen  = "\x1b[32m"
	sgrYellow = "\x1b[33m"
)

var (
	mu      sync.Mutex
	forced  bool // colors switched off by flag
	detect  sync.Once
	plainTo bool // colors switched off by environment
)

// Disable switches colors off (or back on) for the rest of the process.
// It cannot turn colors on when the environment rules them out.
func Disable(off bool) {
	mu.Lock()
	defer mu.Unlock()
	forced = off
}

// Enabled reports whether output is colored.
func Enabled() bool {
	detect.Do(func() {
		_, noColor := os.LookupEnv("NO_COLOR")
		plainTo = noColor || !isTerminal(os.Stdout)
	})
	mu.Lock()
	defer mu.Unlock()
	return !forced && !plainTo
}

func isTerminal(f *os.File) bool {
	return xterm.IsTerminal(f.Fd())
}

func paint(sgr, s string) string {
	if !Enabled() {
		return s
	}
	return sgr + s + sgrReset
}

// Green marks accepted verbs and a running timer.
func Green(s string) string { return paint(sgrGreen, s) }

// Red marks errors.
func Red(s string) string { return paint(sgrRed, s) }

// Yellow marks unknown commands and a paused timer.
func Yellow(s string) string { return paint(sgrYellow, s) }

// Dim marks labels and tooltips.
func Dim(s string) string { return paint(sgrDim, s) }

// Redf formats and returns the result in red.
func Redf(format string, a ...any) string { return Red(fmt.Sprintf(format, a...)) }

// Reply colors a raw bridge reply by its protocol meaning: "OK" green,
// "ERROR: ..." red, "unknown command: ..." yellow, data replies plain.
func Reply(reply string) string {
	switch {
	case reply == "OK":
		return Green(reply)
	case strings.HasPrefix(reply, "ERROR: "):
		return Red(reply)
	case strings.HasPrefix(reply, "unknown command: "):
		return Yellow(reply)
	default:
		return reply
	}
}

// State colors a timer run state name.
func State(run string) string {
	switch run {
	case "Running":
		return Green(run)
	case "Paused":
		return Yellow(run)
	case "Error":
		return Red(run)
	default:
		return Dim(run)
	}
}

// Accent renders text bold in a payload's hex accent color.
func Accent(text, hex string) string {
	if hex == "" || !Enabled() {
		return text
	}
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(hex)).
		Render(text)
}

// Label pads a row label to width runes and dims it. fmt's %-Ns would count
// the escape bytes.
func Label(s string, width int) string {
	if n := len([]rune(s)); n < width {
		s += strings.Repeat(" ", width-n)
	}
	return Dim(s)
}
