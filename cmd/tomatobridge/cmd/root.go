package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/baiirun/tomatobridge/internal/client"
	"github.com/baiirun/tomatobridge/internal/daemon"
	"github.com/baiirun/tomatobridge/internal/term"
	"github.com/baiirun/tomatobridge/internal/timer"
)

var version = "dev"

// SetVersion records the build version reported by "tomatobridge version".
func SetVersion(v string) { version = v }

var rootCmd = &cobra.Command{
	Use:   "tomatobridge",
	Short: "Bridge a pomodoro timer to the status bar",
	Long: `tomatobridge sits between the tomato-clock timer daemon and a status bar.

It serves a Unix socket that answers status queries and forwards control
verbs (start, stop, pause, resume, skip) to the timer, and it keeps a
waybar-style JSON payload file fresh for bars that poll a file.

Run "tomatobridge serve" once per session; the other commands talk to it.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if off, _ := cmd.Flags().GetBool("no-color"); off {
			term.Disable(true)
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/tomato-clock/bridge.yaml)")
	rootCmd.PersistentFlags().String("socket", "", "bridge socket path (default is <config dir>/tomato.sock)")
	rootCmd.PersistentFlags().Duration("timeout", daemon.DefaultConnTimeout, "how long to wait for the bridge to answer")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().Bool("auto-start", true, "start the bridge in the background when its socket is missing")
}

// Fatal prints an error and exits.
func Fatal(msg string, args ...any) {
	fmt.Fprintln(os.Stderr, term.Redf("error: "+msg, args...))
	os.Exit(1)
}

// loadConfig assembles the configuration: flags already copied into cfg win,
// then the config file fills the gaps, then defaults.
func loadConfig(cmd *cobra.Command, cfg daemon.Config) (daemon.Config, error) {
	if socket, _ := cmd.Flags().GetString("socket"); socket != "" {
		cfg.SocketPath = socket
	}

	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = daemon.DefaultConfigPath()
	}
	if err := daemon.LoadConfigFile(configPath, &cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// newClient builds a bridge client from the resolved socket path. Unless
// --auto-start=false, a missing bridge is launched as "<this binary> serve".
func newClient(cmd *cobra.Command) *client.Client {
	cfg, err := loadConfig(cmd, daemon.Config{})
	if err != nil {
		Fatal("%v", err)
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = daemon.DefaultConnTimeout
	}

	var opts []client.Option
	if auto, _ := cmd.Flags().GetBool("auto-start"); auto {
		if self, err := os.Executable(); err == nil {
			opts = append(opts, client.WithAutoStart(timer.ExecProcessStarter, self, serveArgs(cmd, cfg)...))
		}
	}
	return client.New(cfg.SocketPath, timeout, opts...)
}

// serveArgs are the arguments an auto-started bridge runs with, so it
// binds the socket this client dials.
func serveArgs(cmd *cobra.Command, cfg daemon.Config) []string {
	args := []string{"serve", "--socket", cfg.SocketPath}
	if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}

// formatDuration renders whole seconds as MM:SS.
func formatDuration(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
