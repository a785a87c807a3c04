// Package waybar turns timer snapshots into status-bar payloads and
// publishes them for pollers that read a file instead of the socket.
package waybar

import (
	"fmt"
	"strings"
	"time"

	"github.com/baiirun/tomatobridge/internal/state"
)

// Phase durations used when the state file does not carry its own.
const (
	DefaultWorkDuration  = 25 * time.Minute
	DefaultBreakDuration = 5 * time.Minute
)

// DefaultFormat renders as "<icon> <status>: MM:SS".
const DefaultFormat = "{icon} {status}: {remaining}"

// Class values understood by the status-bar stylesheet.
const (
	ClassRunning = "running"
	ClassPaused  = "paused"
	ClassIdle    = "idle"
	ClassError   = "error"
)

const (
	iconWork  = "🔨"
	iconBreak = "☕"
	iconPause = "⏸️"
	iconIdle  = "🍅"
)

const (
	accentWork  = "#ff5555"
	accentBreak = "#50fa7b"
	accentPause = "#f1fa8c"
	accentIdle  = "#bd93f9"
)

// Payload is the status-bar widget contract. The accent color travels in
// the "alt" field.
type Payload struct {
	Text       string `json:"text"`
	Tooltip    string `json:"tooltip"`
	Class      string `json:"class"`
	Percentage int    `json:"percentage"`
	Accent     string `json:"alt,omitempty"`
}

// ErrorPayload is rendered in place of a normal payload when mapping fails.
func ErrorPayload(err error) Payload {
	return Payload{
		Text:    iconIdle + " Error",
		Tooltip: "Error: " + err.Error(),
		Class:   ClassError,
	}
}

// Mapper derives payloads from snapshots. A Mapper is immutable and safe
// for concurrent use.
type Mapper struct {
	work   time.Duration
	brk    time.Duration
	format string
}

// NewMapper returns a mapper with the given phase durations and text
// template. Zero values fall back to the defaults.
func NewMapper(work, brk time.Duration, format string) *Mapper {
	if work == 0 {
		work = DefaultWorkDuration
	}
	if brk == 0 {
		brk = DefaultBreakDuration
	}
	if format == "" {
		format = DefaultFormat
	}
	return &Mapper{work: work, brk: brk, format: format}
}

// PhaseDuration returns the configured length of a phase in whole seconds.
// Anything other than "break" is timed as work.
func (m *Mapper) PhaseDuration(status string) int64 {
	if status == state.PhaseBreak {
		return int64(m.brk / time.Second)
	}
	return int64(m.work / time.Second)
}

// Render maps st to a payload. It never fails: a snapshot that cannot be
// mapped yields ErrorPayload.
func (m *Mapper) Render(st state.TimerState) Payload {
	p, err := m.render(st)
	if err != nil {
		return ErrorPayload(err)
	}
	return p
}

func (m *Mapper) render(st state.TimerState) (Payload, error) {
	if st.ElapsedSeconds < 0 {
		return Payload{}, fmt.Errorf("negative elapsed_seconds %d", st.ElapsedSeconds)
	}

	workflow := st.WorkflowName
	if workflow == "" {
		workflow = state.DefaultWorkflow
	}
	status := st.CurrentStatus
	if status == "" {
		status = state.PhaseWork
	}

	duration := m.PhaseDuration(status)
	remaining := max(0, duration-st.ElapsedSeconds)
	remainingStr := clock(remaining)

	icon, class, accent := appearance(st.TimerState, status)

	text := strings.NewReplacer(
		"{icon}", icon,
		"{status}", status,
		"{remaining}", remainingStr,
		"{workflow}", workflow,
	).Replace(m.format)

	tooltip := fmt.Sprintf("%s: %s\nRemaining: %s", status, workflow, remainingStr)
	if st.Active() {
		tooltip += "\nElapsed: " + clock(st.ElapsedSeconds)
	}

	return Payload{
		Text:       text,
		Tooltip:    tooltip,
		Class:      class,
		Percentage: percentage(st.ElapsedSeconds, duration),
		Accent:     accent,
	}, nil
}

// appearance picks icon, class and accent from run state and phase.
func appearance(run state.RunState, status string) (icon, class, accent string) {
	switch run {
	case state.Running:
		if status == state.PhaseBreak {
			return iconBreak, ClassRunning, accentBreak
		}
		return iconWork, ClassRunning, accentWork
	case state.Paused:
		return iconPause, ClassPaused, accentPause
	default:
		return iconIdle, ClassIdle, accentIdle
	}
}

// percentage is floor(elapsed/duration*100) clamped to 0..100.
func percentage(elapsed, duration int64) int {
	if duration <= 0 || elapsed <= 0 {
		return 0
	}
	if elapsed >= duration {
		return 100
	}
	return int(elapsed * 100 / duration)
}

func clock(seconds int64) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
