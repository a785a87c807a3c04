// Package timer drives the external timer executable: it forwards control
// verbs to it and keeps its daemon mode alive.
package timer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultGracePeriod is how long a successful verb waits for the timer
// daemon to persist its new state before the caller re-reads it.
const DefaultGracePeriod = 500 * time.Millisecond

// Verb is a control command understood by the timer executable.
type Verb string

const (
	Start  Verb = "start"
	Stop   Verb = "stop"
	Pause  Verb = "pause"
	Resume Verb = "resume"
	Skip   Verb = "skip"
)

// Verbs lists every control verb.
var Verbs = []Verb{Start, Stop, Pause, Resume, Skip}

// ErrUnknownVerb is returned for anything outside Verbs.
var ErrUnknownVerb = errors.New("unknown control verb")

// ParseVerb matches s exactly against the control verbs.
func ParseVerb(s string) (Verb, bool) {
	for _, v := range Verbs {
		if string(v) == s {
			return v, true
		}
	}
	return "", false
}

// CommandRunner runs a command to completion and returns what it wrote to
// standard error. This is the seam for testing.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecCommandRunner runs a real command via os/exec. Standard output is
// discarded.
func ExecCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// Failure describes a verb the timer executable rejected.
type Failure struct {
	Verb     Verb
	ExitCode int // -1 when the process never ran or was killed
	Stderr   string
	Err      error
}

func (f *Failure) Error() string {
	if f.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", f.Verb, f.Err, f.Stderr)
	}
	return fmt.Sprintf("%s: %v", f.Verb, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Detail is the text reported back to clients: the captured standard
// error, or the run error when nothing was written.
func (f *Failure) Detail() string {
	if f.Stderr != "" {
		return f.Stderr
	}
	return f.Err.Error()
}

// Invoker forwards control verbs to the timer executable.
type Invoker struct {
	bin       string
	run       CommandRunner
	grace     time.Duration
	onSuccess func(ctx context.Context)
	log       *slog.Logger
}

// NewInvoker returns an invoker for the executable at bin. onSuccess runs
// after every accepted verb once the grace period has elapsed; it may be nil.
func NewInvoker(bin string, runner CommandRunner, grace time.Duration, onSuccess func(ctx context.Context), log *slog.Logger) *Invoker {
	if runner == nil {
		runner = ExecCommandRunner
	}
	if log == nil {
		log = slog.Default()
	}
	return &Invoker{
		bin:       bin,
		run:       runner,
		grace:     grace,
		onSuccess: onSuccess,
		log:       log,
	}
}

// Invoke runs the timer executable with verb as its only argument. It
// blocks until the executable exits and is never retried. A non-zero exit
// is returned as *Failure.
func (i *Invoker) Invoke(ctx context.Context, verb Verb) error {
	if _, ok := ParseVerb(string(verb)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}

	i.log.Info("invoking timer", "verb", verb, "bin", i.bin)
	stderr, err := i.run(ctx, i.bin, string(verb))
	if err != nil {
		f := &Failure{
			Verb:     verb,
			ExitCode: -1,
			Stderr:   strings.TrimSpace(string(stderr)),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			f.ExitCode = exitErr.ExitCode()
		}
		i.log.Warn("timer verb failed", "verb", verb, "exit_code", f.ExitCode, "stderr", f.Stderr)
		return f
	}

	if i.grace > 0 {
		t := time.NewTimer(i.grace)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}
	if i.onSuccess != nil {
		i.onSuccess(ctx)
	}
	return nil
}
