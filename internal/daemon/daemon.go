// Package daemon implements the tomato bridge.
//
// The bridge is a stateless reflector of the timer's state file that:
//   - Serves status, output and control verbs on a Unix socket
//   - Republishes the status-bar payload to a sink file every period
//   - Restarts the timer's daemon mode when it is not running
package daemon

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/baiirun/tomatobridge/internal/state"
	"github.com/baiirun/tomatobridge/internal/timer"
	"github.com/baiirun/tomatobridge/internal/waybar"
)

// Daemon ties the server and the refresher to one cancellation signal.
type Daemon struct {
	config     Config
	server     *Server
	refresher  *Refresher
	supervisor *timer.Supervisor
	log        *slog.Logger
}

// New creates a bridge with the given config.
// Call cfg.ApplyDefaults() and cfg.Validate() before passing to New.
func New(cfg Config) *Daemon {
	cfg.ApplyDefaults()
	log := cfg.Logger

	reader := state.NewReader(cfg.StateFile)
	mapper := waybar.NewMapper(cfg.WorkDuration, cfg.BreakDuration, cfg.TextFormat)
	publisher := waybar.NewPublisher(cfg.OutputFile)
	supervisor := timer.NewSupervisor(cfg.TimerBin, cfg.DaemonPattern, cfg.Runner, cfg.Starter, cfg.ReadyTimeout, log)
	refresher := NewRefresher(reader, mapper, publisher, supervisor, cfg.RefreshInterval, cfg.Watch(), log)
	invoker := timer.NewInvoker(cfg.TimerBin, cfg.Runner, cfg.GracePeriod, refresher.PublishAfterVerb, log)
	dispatcher := NewDispatcher(reader, mapper, invoker, log)

	return &Daemon{
		config:     cfg,
		server:     NewServer(cfg.SocketPath, cfg.AcceptTimeout, cfg.ConnTimeout, dispatcher, log),
		refresher:  refresher,
		supervisor: supervisor,
		log:        log,
	}
}

// Run binds the socket, starts the refresher and serves until ctx is
// cancelled or SIGINT/SIGTERM arrives. A bind failure is returned before
// anything else starts.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.server.Listen(); err != nil {
		d.log.Error("cannot bind socket", "socket", d.config.SocketPath, "error", err)
		return err
	}

	liveness, err := d.supervisor.Ensure(ctx)
	if err != nil {
		d.log.Warn("initial timer daemon check failed", "error", err)
	} else {
		d.log.Info("initial timer daemon check", "result", liveness.String())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.refresher.Run(ctx)
	}()

	err = d.server.Serve(ctx)
	d.log.Info("shutting down")
	stop()
	wg.Wait()
	return err
}
