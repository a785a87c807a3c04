package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/baiirun/tomatobridge/internal/daemon"
	"github.com/baiirun/tomatobridge/internal/term"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge in the foreground",
	Long: `Run the bridge: listen on the Unix socket, keep the timer daemon alive,
and refresh the status bar payload file every refresh interval.

Stops cleanly on SIGINT or SIGTERM and removes the socket file.

Examples:
  tomatobridge serve
  tomatobridge serve --refresh-interval 2s --log-level debug
  tomatobridge serve -c ~/.config/tomato-clock/bridge.toml`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(cmd); err != nil {
			Fatal("%v", err)
		}
	},
}

// runServe returns instead of exiting so the log file is closed on every
// path.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd, serveFlags(cmd))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, closer, err := daemon.OpenLog(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closer.Close()
	cfg.Logger = log

	fmt.Printf("%s %s\n", term.Dim("listening on"), cfg.SocketPath)
	fmt.Printf("%s %s\n", term.Dim("logging to  "), cfg.LogFile)

	if err := daemon.New(cfg).Run(context.Background()); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return fmt.Errorf("another bridge is already serving %s", cfg.SocketPath)
		}
		return err
	}
	return nil
}

// serveFlags copies explicitly set flags into a Config so they take
// precedence over the config file.
func serveFlags(cmd *cobra.Command) daemon.Config {
	var cfg daemon.Config
	f := cmd.Flags()

	strs := map[string]*string{
		"state-file":     &cfg.StateFile,
		"output-file":    &cfg.OutputFile,
		"log-file":       &cfg.LogFile,
		"log-level":      &cfg.LogLevel,
		"timer-bin":      &cfg.TimerBin,
		"format":         &cfg.TextFormat,
		"daemon-pattern": &cfg.DaemonPattern,
	}
	for name, dst := range strs {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}

	durs := map[string]*time.Duration{
		"refresh-interval": &cfg.RefreshInterval,
		"grace-period":     &cfg.GracePeriod,
		"work-duration":    &cfg.WorkDuration,
		"break-duration":   &cfg.BreakDuration,
		"accept-timeout":   &cfg.AcceptTimeout,
		"conn-timeout":     &cfg.ConnTimeout,
		"ready-timeout":    &cfg.ReadyTimeout,
	}
	for name, dst := range durs {
		if f.Changed(name) {
			*dst, _ = f.GetDuration(name)
		}
	}

	if f.Changed("no-watch") {
		off, _ := f.GetBool("no-watch")
		watch := !off
		cfg.WatchState = &watch
	}
	return cfg
}

func init() {
	f := serveCmd.Flags()
	f.String("state-file", "", "timer state file to read (default is <config dir>/state.json)")
	f.String("output-file", "", "status bar payload file to write (default is <config dir>/waybar-output.json)")
	f.String("log-file", "", "diagnostic log file (default is <config dir>/socket_server.log)")
	f.String("log-level", "", "log level: debug, info, warn, error (default info)")
	f.String("timer-bin", "", "timer executable (default is ~/.local/bin/tomato-clock)")
	f.String("format", "", `payload text template, e.g. "{icon} {remaining}"`)
	f.Duration("refresh-interval", 0, "payload refresh period (default 1s)")
	f.Duration("grace-period", 0, "wait after a control verb before re-rendering (default 500ms)")
	f.Duration("work-duration", 0, "work phase length (default 25m)")
	f.Duration("break-duration", 0, "break phase length (default 5m)")
	f.String("daemon-pattern", "", `process pattern that marks the timer daemon as running (default "tomato-clock daemon")`)
	f.Duration("accept-timeout", 0, "longest wait per accept, bounds shutdown latency (default 1s, at most 5s)")
	f.Duration("conn-timeout", 0, "read and write deadline per connection (default 5s)")
	f.Duration("ready-timeout", 0, "how long a spawned timer daemon has to appear; negative skips the wait (default 1s)")
	f.Bool("no-watch", false, "do not watch the state file for changes")
	rootCmd.AddCommand(serveCmd)
}
