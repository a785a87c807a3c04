package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeState(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadMissingFileReturnsDefault(t *testing.T) {
	r := NewReader(filepath.Join(t.TempDir(), "nope.json"))

	st, err := r.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != Default() {
		t.Errorf("Read() = %+v, want %+v", st, Default())
	}

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"timer_state":"Stopped","workflow_name":"Default Pomodoro","current_status":"work"}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}

func TestReadValidFile(t *testing.T) {
	path := writeState(t, `{
		"timer_state": "Running",
		"workflow_name": "Deep Work",
		"current_status": "break",
		"start_time": "2026-10-19T09:00:00+02:00",
		"elapsed_seconds": 42
	}`)

	st, err := NewReader(path).Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := TimerState{
		TimerState:     Running,
		WorkflowName:   "Deep Work",
		CurrentStatus:  PhaseBreak,
		StartTime:      "2026-10-19T09:00:00+02:00",
		ElapsedSeconds: 42,
	}
	if st != want {
		t.Errorf("Read() = %+v, want %+v", st, want)
	}
	if !st.Active() {
		t.Error("Running state should be active")
	}
}

func TestReadMalformedFile(t *testing.T) {
	path := writeState(t, `{"timer_state": "Running",`)

	st, err := NewReader(path).Read()
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
	if st.TimerState != Error {
		t.Errorf("TimerState = %q, want %q", st.TimerState, Error)
	}
	if st.Error == "" {
		t.Error("Error-tagged state should carry a diagnostic")
	}
}

func TestReadUnreadablePath(t *testing.T) {
	// A directory at the state path can be stat'ed but not read as a file.
	dir := t.TempDir()

	st, err := NewReader(dir).Read()
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("err = %v, want ErrUnreadable", err)
	}
	if st.TimerState != Error {
		t.Errorf("TimerState = %q, want %q", st.TimerState, Error)
	}
}

func TestReadIsIdempotent(t *testing.T) {
	path := writeState(t, `{"timer_state":"Paused","workflow_name":"w","current_status":"work","elapsed_seconds":90}`)
	r := NewReader(path)

	first, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("consecutive reads differ: %+v vs %+v", first, second)
	}
}

func TestActive(t *testing.T) {
	tests := []struct {
		state RunState
		want  bool
	}{
		{Running, true},
		{Paused, true},
		{Stopped, false},
		{Error, false},
		{"", false},
	}
	for _, tt := range tests {
		if got := (TimerState{TimerState: tt.state}).Active(); got != tt.want {
			t.Errorf("Active(%q) = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestReadPersistedTimerFile(t *testing.T) {
	// Shape written by the timer daemon itself: status and workflow are
	// objects, and it carries fields the bridge does not use.
	path := writeState(t, `{
		"timer_state": "Running",
		"current_phase": {"name": "work", "duration": 25, "description": null, "color": "#ff5555", "icon": "🔨"},
		"current_status": {"name": "work", "description": "Working on tasks", "color": "#ff5555", "icon": "🔨"},
		"current_workflow": {"name": "Deep Work", "phases": [], "description": null, "repeatable": true},
		"start_time": "2026-10-19T09:00:00+02:00",
		"elapsed_seconds": 300,
		"last_saved": "2026-10-19T09:05:00+02:00"
	}`)

	st, err := NewReader(path).Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := TimerState{
		TimerState:     Running,
		WorkflowName:   "Deep Work",
		CurrentStatus:  PhaseWork,
		StartTime:      "2026-10-19T09:00:00+02:00",
		ElapsedSeconds: 300,
	}
	if st != want {
		t.Errorf("Read() = %+v, want %+v", st, want)
	}
}

func TestReadPersistedIdleFile(t *testing.T) {
	path := writeState(t, `{"timer_state":"Idle","current_phase":null,"current_status":null,"current_workflow":null,"start_time":null,"elapsed_seconds":0,"last_saved":"2026-10-19T09:05:00+02:00"}`)

	st, err := NewReader(path).Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.TimerState != "Idle" || st.CurrentStatus != "" || st.WorkflowName != "" || st.StartTime != "" {
		t.Errorf("Read() = %+v", st)
	}
	if st.Active() {
		t.Error("Idle state should not be active")
	}
}

func TestReadRejectsNonStringStatus(t *testing.T) {
	path := writeState(t, `{"timer_state":"Running","current_status":42}`)

	st, err := NewReader(path).Read()
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
	if st.TimerState != Error {
		t.Errorf("TimerState = %q, want %q", st.TimerState, Error)
	}
}

func TestMarshalKeepsElapsedWhileActive(t *testing.T) {
	tests := []struct {
		name string
		st   TimerState
		want string
	}{
		{
			name: "running at zero",
			st:   TimerState{TimerState: Running, WorkflowName: "w", CurrentStatus: PhaseWork},
			want: `{"timer_state":"Running","workflow_name":"w","current_status":"work","elapsed_seconds":0}`,
		},
		{
			name: "paused",
			st:   TimerState{TimerState: Paused, CurrentStatus: PhaseBreak, ElapsedSeconds: 12},
			want: `{"timer_state":"Paused","current_status":"break","elapsed_seconds":12}`,
		},
		{
			name: "default",
			st:   Default(),
			want: `{"timer_state":"Stopped","workflow_name":"Default Pomodoro","current_status":"work"}`,
		},
		{
			name: "error",
			st:   TimerState{TimerState: Error, Error: "boom"},
			want: `{"timer_state":"Error","error":"boom"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.st)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tt.want {
				t.Errorf("json = %s, want %s", data, tt.want)
			}

			var back TimerState
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatal(err)
			}
			if back != tt.st {
				t.Errorf("decoded = %+v, want %+v", back, tt.st)
			}
		})
	}
}
