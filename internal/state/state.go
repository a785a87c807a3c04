// Package state reads snapshots of the external timer's state file.
//
// The timer daemon owns the file; this package only ever reads it. A
// snapshot has no identity across reads, so callers re-read whenever they
// need fresh data.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// RunState is the timer's run state as written by the timer daemon.
type RunState string

const (
	Stopped RunState = "Stopped"
	Running RunState = "Running"
	Paused  RunState = "Paused"
	Error   RunState = "Error"
)

// Phase names used in current_status.
const (
	PhaseWork  = "work"
	PhaseBreak = "break"
)

// DefaultWorkflow is reported when the timer has never written a state file.
const DefaultWorkflow = "Default Pomodoro"

var (
	// ErrUnreadable means the state file exists but could not be read.
	ErrUnreadable = errors.New("state file unreadable")
	// ErrMalformed means the state file is not a valid JSON state object.
	ErrMalformed = errors.New("state file malformed")
)

// TimerState is one snapshot of the external timer.
//
// It decodes both the flat shape and the one the timer persists, where
// current_status is a {"name", "icon", "color"} object and the workflow
// name lives under current_workflow.
type TimerState struct {
	TimerState     RunState `json:"timer_state"`
	WorkflowName   string   `json:"workflow_name,omitempty"`
	CurrentStatus  string   `json:"current_status,omitempty"`
	StartTime      string   `json:"start_time,omitempty"`
	ElapsedSeconds int64    `json:"elapsed_seconds,omitempty"`

	// Error carries the diagnostic when TimerState is Error.
	Error string `json:"error,omitempty"`
}

// UnmarshalJSON normalizes the timer's persisted shape into the flat one.
func (s *TimerState) UnmarshalJSON(data []byte) error {
	type plain TimerState
	var raw struct {
		plain
		CurrentStatus   json.RawMessage `json:"current_status"`
		CurrentWorkflow *struct {
			Name string `json:"name"`
		} `json:"current_workflow"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	status, err := nameOf(raw.CurrentStatus)
	if err != nil {
		return fmt.Errorf("current_status: %w", err)
	}

	*s = TimerState(raw.plain)
	s.CurrentStatus = status
	if s.WorkflowName == "" && raw.CurrentWorkflow != nil {
		s.WorkflowName = raw.CurrentWorkflow.Name
	}
	return nil
}

// nameOf reads a field that is either a plain string or an object with a
// "name" key. Absent and null both give "".
func nameOf(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var name string
		err := json.Unmarshal(raw, &name)
		return name, err
	case '{':
		var obj struct {
			Name string `json:"name"`
		}
		err := json.Unmarshal(raw, &obj)
		return obj.Name, err
	default:
		return "", fmt.Errorf("want string or object, got %s", raw)
	}
}

// MarshalJSON writes the flat shape. elapsed_seconds is always present
// while the timer is running or paused, even at zero.
func (s TimerState) MarshalJSON() ([]byte, error) {
	wire := struct {
		TimerState     RunState `json:"timer_state"`
		WorkflowName   string   `json:"workflow_name,omitempty"`
		CurrentStatus  string   `json:"current_status,omitempty"`
		StartTime      string   `json:"start_time,omitempty"`
		ElapsedSeconds *int64   `json:"elapsed_seconds,omitempty"`
		Error          string   `json:"error,omitempty"`
	}{
		TimerState:    s.TimerState,
		WorkflowName:  s.WorkflowName,
		CurrentStatus: s.CurrentStatus,
		StartTime:     s.StartTime,
		Error:         s.Error,
	}
	if s.Active() || s.ElapsedSeconds != 0 {
		elapsed := s.ElapsedSeconds
		wire.ElapsedSeconds = &elapsed
	}
	return json.Marshal(wire)
}

// Default returns the state reported when no state file exists.
func Default() TimerState {
	return TimerState{
		TimerState:    Stopped,
		WorkflowName:  DefaultWorkflow,
		CurrentStatus: PhaseWork,
	}
}

// Failed returns an Error-tagged state carrying err's message.
func Failed(err error) TimerState {
	return TimerState{TimerState: Error, Error: err.Error()}
}

// Active reports whether the timer is counting or holding elapsed time.
func (s TimerState) Active() bool {
	return s.TimerState == Running || s.TimerState == Paused
}

// Reader loads snapshots from a state file.
type Reader struct {
	path string
}

// NewReader returns a reader for the state file at path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Path returns the state file location.
func (r *Reader) Path() string { return r.path }

// Read returns the latest snapshot. It always returns a usable state: a
// missing file yields Default() with a nil error, and an unreadable or
// malformed file yields an Error-tagged state together with a non-nil
// error wrapping ErrUnreadable or ErrMalformed.
func (r *Reader) Read() (TimerState, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		err = fmt.Errorf("%w: %v", ErrUnreadable, err)
		return Failed(err), err
	}

	var st TimerState
	if err := json.Unmarshal(data, &st); err != nil {
		err = fmt.Errorf("%w: %v", ErrMalformed, err)
		return Failed(err), err
	}
	return st, nil
}
