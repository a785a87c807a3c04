package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/baiirun/tomatobridge/internal/state"
	"github.com/baiirun/tomatobridge/internal/timer"
	"github.com/baiirun/tomatobridge/internal/waybar"
)

// Protocol replies.
const (
	ReplyOK      = "OK"
	ErrorPrefix  = "ERROR: "
	UnknownReply = "unknown command: "
)

// Controller forwards control verbs to the timer.
type Controller interface {
	Invoke(ctx context.Context, verb timer.Verb) error
}

// Dispatcher turns one request into one textual reply.
type Dispatcher struct {
	reader  *state.Reader
	mapper  *waybar.Mapper
	control Controller
	log     *slog.Logger
}

// NewDispatcher wires the state reader, mapper and controller together.
func NewDispatcher(reader *state.Reader, mapper *waybar.Mapper, control Controller, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{reader: reader, mapper: mapper, control: control, log: log}
}

// Dispatch decodes raw, routes it and returns the reply. It never fails:
// every error becomes an "ERROR: <detail>" reply.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) string {
	if !utf8.Valid(raw) {
		d.log.Warn("rejecting non-UTF-8 request", "bytes", len(raw))
		return ErrorPrefix + "request is not valid UTF-8"
	}
	cmd := strings.TrimSpace(string(raw))

	reply, err := d.handle(ctx, cmd)
	if err != nil {
		d.log.Error("command failed", "command", cmd, "error", err)
		return ErrorPrefix + errorDetail(err)
	}
	return reply
}

func (d *Dispatcher) handle(ctx context.Context, cmd string) (string, error) {
	switch {
	case strings.HasPrefix(cmd, "status"):
		return d.handleStatus()
	case strings.HasPrefix(cmd, "output"):
		return d.handleOutput()
	}
	if verb, ok := timer.ParseVerb(cmd); ok {
		return d.handleVerb(ctx, verb)
	}
	d.log.Info("unknown command", "command", cmd)
	return UnknownReply + cmd, nil
}

func (d *Dispatcher) handleStatus() (string, error) {
	st, err := d.reader.Read()
	if err != nil {
		d.log.Warn("reading state", "path", d.reader.Path(), "error", err)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	return string(data), nil
}

func (d *Dispatcher) handleOutput() (string, error) {
	st, err := d.reader.Read()
	if err != nil {
		d.log.Warn("reading state", "path", d.reader.Path(), "error", err)
	}
	data, err := json.Marshal(d.mapper.Render(st))
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

func (d *Dispatcher) handleVerb(ctx context.Context, verb timer.Verb) (string, error) {
	if err := d.control.Invoke(ctx, verb); err != nil {
		return "", err
	}
	return ReplyOK, nil
}

// errorDetail is what follows "ERROR: " on the wire. Timer failures report
// the executable's own diagnostic.
func errorDetail(err error) string {
	var f *timer.Failure
	if errors.As(err, &f) {
		return f.Detail()
	}
	return err.Error()
}
