// Package client provides a client for talking to the bridge socket.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/baiirun/tomatobridge/internal/state"
	"github.com/baiirun/tomatobridge/internal/timer"
	"github.com/baiirun/tomatobridge/internal/waybar"
)

const (
	maxResponse = 4096
	dialTimeout = 2 * time.Second

	// DefaultStartWait is how long an auto-started bridge has to create
	// its socket.
	DefaultStartWait  = 2500 * time.Millisecond
	startPollInterval = 100 * time.Millisecond
)

// ErrNotStarted is returned when an auto-started bridge never created its
// socket.
var ErrNotStarted = errors.New("bridge did not start")

// Client sends single-shot commands to the bridge.
type Client struct {
	socketPath string
	timeout    time.Duration

	// start launches the bridge when its socket is missing; nil disables it.
	start     func() error
	startWait time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithAutoStart makes the client launch the bridge through starter as
// "name args..." when the socket file does not exist, then wait up to
// DefaultStartWait for the socket to appear.
func WithAutoStart(starter timer.ProcessStarter, name string, args ...string) Option {
	return func(c *Client) {
		c.start = func() error { return starter(name, args...) }
	}
}

// New creates a client for the socket at socketPath. timeout bounds the
// whole exchange; zero means no deadline.
func New(socketPath string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{socketPath: socketPath, timeout: timeout, startWait: DefaultStartWait}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ensureRunning starts the bridge if auto-start is on and no socket file
// exists. An existing socket is trusted; a stale one fails at dial time.
func (c *Client) ensureRunning() error {
	if c.start == nil {
		return nil
	}
	if _, err := os.Stat(c.socketPath); err == nil {
		return nil
	}
	if err := c.start(); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}

	deadline := time.Now().Add(c.startWait)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(c.socketPath); err == nil {
			return nil
		}
		time.Sleep(startPollInterval)
	}
	return fmt.Errorf("%w: no socket at %s after %v", ErrNotStarted, c.socketPath, c.startWait)
}

// Send writes cmd and returns the bridge's reply verbatim.
func (c *Client) Send(cmd string) (string, error) {
	if err := c.ensureRunning(); err != nil {
		return "", err
	}

	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return "", fmt.Errorf("failed to connect to bridge: %w (is the bridge running?)", err)
	}
	defer conn.Close()

	if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if _, err := io.WriteString(conn, cmd); err != nil {
		return "", fmt.Errorf("failed to send command: %w", err)
	}
	// The bridge reads once; half-close tells it the request is complete.
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	data, err := io.ReadAll(io.LimitReader(conn, maxResponse+1))
	if err != nil {
		return "", fmt.Errorf("failed to read reply: %w", err)
	}
	if len(data) > maxResponse {
		return "", fmt.Errorf("reply to %q exceeds %d bytes", cmd, maxResponse)
	}
	return string(data), nil
}

// Status returns the raw timer state.
func (c *Client) Status() (state.TimerState, error) {
	var st state.TimerState
	if err := c.call("status", &st); err != nil {
		return state.TimerState{}, err
	}
	return st, nil
}

// Output returns the rendered status-bar payload.
func (c *Client) Output() (waybar.Payload, error) {
	var p waybar.Payload
	if err := c.call("output", &p); err != nil {
		return waybar.Payload{}, err
	}
	return p, nil
}

// Widget is Output for status bars that run a command: it never fails.
// An unreachable bridge or an unparseable reply becomes an error widget.
func (c *Client) Widget() waybar.Payload {
	p, err := c.Output()
	if err != nil {
		return waybar.ErrorPayload(err)
	}
	return p
}

// Control sends a control verb. A rejected verb is returned as an error
// carrying the bridge's detail.
func (c *Client) Control(verb timer.Verb) error {
	reply, err := c.Send(string(verb))
	if err != nil {
		return err
	}
	if reply == "OK" {
		return nil
	}
	return fmt.Errorf("%s", strings.TrimPrefix(reply, "ERROR: "))
}

// Toggle starts a stopped timer, pauses a running one and resumes a paused
// one. It returns the verb it sent.
func (c *Client) Toggle() (timer.Verb, error) {
	st, err := c.Status()
	if err != nil {
		return "", err
	}
	verb := ToggleVerb(st.TimerState)
	return verb, c.Control(verb)
}

// ToggleVerb picks the verb Toggle sends for a run state.
func ToggleVerb(run state.RunState) timer.Verb {
	switch run {
	case state.Running:
		return timer.Pause
	case state.Paused:
		return timer.Resume
	default:
		return timer.Start
	}
}

func (c *Client) call(cmd string, result any) error {
	reply, err := c.Send(cmd)
	if err != nil {
		return err
	}
	if strings.HasPrefix(reply, "ERROR: ") {
		return fmt.Errorf("%s", strings.TrimPrefix(reply, "ERROR: "))
	}
	if err := json.Unmarshal([]byte(reply), result); err != nil {
		return fmt.Errorf("failed to parse %s reply: %w", cmd, err)
	}
	return nil
}
