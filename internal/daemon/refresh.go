package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/baiirun/tomatobridge/internal/state"
	"github.com/baiirun/tomatobridge/internal/timer"
	"github.com/baiirun/tomatobridge/internal/waybar"
)

// Ensurer keeps the timer daemon alive.
type Ensurer interface {
	Ensure(ctx context.Context) (timer.Liveness, error)
}

// Refresher republishes the display payload on a fixed period so pollers
// of the sink file see current data without talking to the socket.
type Refresher struct {
	reader    *state.Reader
	mapper    *waybar.Mapper
	publisher *waybar.Publisher
	ensurer   Ensurer
	interval  time.Duration
	watch     bool
	log       *slog.Logger
}

// NewRefresher creates a refresher. With watch set, changes to the state
// file also trigger an immediate republish.
func NewRefresher(reader *state.Reader, mapper *waybar.Mapper, publisher *waybar.Publisher, ensurer Ensurer, interval time.Duration, watch bool, log *slog.Logger) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{
		reader:    reader,
		mapper:    mapper,
		publisher: publisher,
		ensurer:   ensurer,
		interval:  interval,
		watch:     watch,
		log:       log,
	}
}

// Run refreshes immediately and then every interval until ctx is done.
// A failed tick is logged and the next one runs as scheduled.
func (r *Refresher) Run(ctx context.Context) {
	r.log.Info("refresher started", "interval", r.interval, "sink", r.publisher.Path())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if r.watch {
		if w, err := r.startWatch(); err != nil {
			r.log.Warn("state file watch unavailable, relying on periodic refresh", "error", err)
		} else {
			defer func() { _ = w.Close() }()
			events, watchErrs = w.Events, w.Errors
		}
	}

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("refresher stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if r.isStateEvent(ev) {
				r.log.Debug("state file changed", "op", ev.Op.String())
				if err := r.Publish(); err != nil {
					r.log.Error("publish after state change", "error", err)
				}
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			r.log.Warn("state file watch error", "error", err)
		}
	}
}

func (r *Refresher) tick(ctx context.Context) {
	if err := r.Tick(ctx); err != nil {
		// Cancellation during shutdown is expected, don't log as error.
		if ctx.Err() != nil {
			return
		}
		r.log.Error("refresh tick failed", "error", err)
	}
}

// Tick makes sure the timer daemon is running and republishes. When the
// liveness check fails outright nothing is published.
func (r *Refresher) Tick(ctx context.Context) error {
	if r.ensurer != nil {
		liveness, err := r.ensurer.Ensure(ctx)
		if liveness == timer.Failed {
			return fmt.Errorf("ensuring timer daemon: %w", err)
		}
		if liveness != timer.Alive {
			r.log.Info("timer daemon liveness", "result", liveness.String())
		}
	}
	return r.Publish()
}

// Publish re-reads the state, renders it and replaces the sink.
func (r *Refresher) Publish() error {
	st, err := r.reader.Read()
	if err != nil {
		r.log.Warn("reading state", "path", r.reader.Path(), "error", err)
	}
	if err := r.publisher.Publish(r.mapper.Render(st)); err != nil {
		return fmt.Errorf("publishing payload: %w", err)
	}
	return nil
}

// PublishAfterVerb is the hook run after a successful control verb.
func (r *Refresher) PublishAfterVerb(ctx context.Context) {
	if err := r.Publish(); err != nil {
		r.log.Error("publish after verb", "error", err)
	}
}

// startWatch watches the state file's directory. Watching the directory
// rather than the file survives the timer replacing the file by rename.
func (r *Refresher) startWatch() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	dir := filepath.Dir(r.reader.Path())
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	return w, nil
}

func (r *Refresher) isStateEvent(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != filepath.Clean(r.reader.Path()) {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove)
}
