package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

const (
	// DefaultDaemonPattern matches the timer's daemon-mode command line.
	DefaultDaemonPattern = "tomato-clock daemon"
	// DefaultReadyTimeout bounds how long Ensure waits for a spawned daemon
	// to appear in the process list.
	DefaultReadyTimeout = time.Second

	probeInterval = 100 * time.Millisecond
)

// Liveness is the outcome of Supervisor.Ensure.
type Liveness int

const (
	// Alive means the daemon was already running.
	Alive Liveness = iota
	// Spawned means the daemon was started and showed up in time.
	Spawned
	// Timeout means the daemon was started but never showed up.
	Timeout
	// Failed means the probe or the spawn itself failed.
	Failed
)

func (l Liveness) String() string {
	switch l {
	case Alive:
		return "alive"
	case Spawned:
		return "spawned"
	case Timeout:
		return "timeout"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("liveness(%d)", int(l))
	}
}

// ProcessStarter launches a process that outlives the call. This is the
// seam for testing.
type ProcessStarter func(name string, args ...string) error

// ExecProcessStarter starts a detached process in its own session with no
// standard streams. The child is reaped in the background.
func ExecProcessStarter(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // terminal signals aimed at us must not reach the timer
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// Supervisor keeps the timer's daemon mode running.
type Supervisor struct {
	bin          string
	pattern      string
	run          CommandRunner
	start        ProcessStarter
	readyTimeout time.Duration
	log          *slog.Logger
}

// NewSupervisor returns a supervisor that probes for pattern with pgrep and
// launches "bin daemon" when nothing matches.
func NewSupervisor(bin, pattern string, runner CommandRunner, starter ProcessStarter, readyTimeout time.Duration, log *slog.Logger) *Supervisor {
	if pattern == "" {
		pattern = DefaultDaemonPattern
	}
	if runner == nil {
		runner = ExecCommandRunner
	}
	if starter == nil {
		starter = ExecProcessStarter
	}
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		bin:          bin,
		pattern:      pattern,
		run:          runner,
		start:        starter,
		readyTimeout: readyTimeout,
		log:          log,
	}
}

// Probe reports whether a process matching the daemon pattern exists.
func (s *Supervisor) Probe(ctx context.Context) (bool, error) {
	stderr, err := s.run(ctx, "pgrep", "-f", s.pattern)
	if err == nil {
		return true, nil
	}
	// pgrep exits 1 when nothing matched.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("pgrep -f %q: %w (stderr: %s)", s.pattern, err, stderr)
}

// Ensure starts the timer daemon if it is not running. The error is
// non-nil only for Failed.
func (s *Supervisor) Ensure(ctx context.Context) (Liveness, error) {
	alive, err := s.Probe(ctx)
	if err != nil {
		return Failed, err
	}
	if alive {
		return Alive, nil
	}

	s.log.Info("timer daemon not running, starting", "bin", s.bin)
	if err := s.start(s.bin, "daemon"); err != nil {
		return Failed, err
	}
	if s.readyTimeout <= 0 {
		return Spawned, nil
	}

	deadline := time.Now().Add(s.readyTimeout)
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return Timeout, nil
		case <-ticker.C:
		}
		if alive, err := s.Probe(ctx); err == nil && alive {
			return Spawned, nil
		}
	}
	s.log.Warn("timer daemon did not appear", "pattern", s.pattern, "waited", s.readyTimeout)
	return Timeout, nil
}
