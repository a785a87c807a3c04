package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/baiirun/tomatobridge/internal/timer"
	"github.com/baiirun/tomatobridge/internal/waybar"
)

const (
	DefaultRefreshInterval = time.Second
	DefaultAcceptTimeout   = time.Second
	DefaultConnTimeout     = 5 * time.Second
	DefaultLogLevel        = "info"

	// MaxRequestSize is the single read a connection gets.
	MaxRequestSize = 1024
	// MaxResponseSize is what clients read back.
	MaxResponseSize = 4096
)

// ConfigDir is where the timer keeps its files: $XDG_CONFIG_HOME/tomato-clock
// or ~/.config/tomato-clock.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "tomato-clock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "tomato-clock")
	}
	return filepath.Join(home, ".config", "tomato-clock")
}

// DefaultConfigPath is the config file read when --config is not given.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "bridge.yaml")
}

// Config holds bridge configuration.
//
// Configuration is assembled from three sources in priority order:
//  1. CLI flags (highest priority)
//  2. Config file (bridge.yaml or a .toml file)
//  3. Defaults (lowest priority)
type Config struct {
	// SocketPath is the Unix socket clients connect to.
	SocketPath string `yaml:"socket_path" toml:"socket_path"`

	// StateFile is the timer daemon's JSON state file. Read only.
	StateFile string `yaml:"state_file" toml:"state_file"`

	// OutputFile receives the latest display payload every refresh.
	OutputFile string `yaml:"output_file" toml:"output_file"`

	// LogFile is the append-only diagnostic log.
	LogFile string `yaml:"log_file" toml:"log_file"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" toml:"log_level"`

	// TimerBin is the timer executable that receives control verbs and is
	// launched with "daemon" when its daemon mode is not running.
	TimerBin string `yaml:"timer_bin" toml:"timer_bin"`

	// DaemonPattern is matched against process command lines (pgrep -f)
	// to decide whether the timer daemon is alive.
	DaemonPattern string `yaml:"daemon_pattern" toml:"daemon_pattern"`

	// RefreshInterval is the background refresher period.
	RefreshInterval time.Duration `yaml:"refresh_interval" toml:"refresh_interval"`

	// AcceptTimeout bounds each wait for a connection, and with it the
	// shutdown latency of the accept loop.
	AcceptTimeout time.Duration `yaml:"accept_timeout" toml:"accept_timeout"`

	// ConnTimeout bounds reading a request and writing its response.
	// Executing a control verb is not bounded.
	ConnTimeout time.Duration `yaml:"conn_timeout" toml:"conn_timeout"`

	// GracePeriod is the wait after a successful verb before republishing.
	GracePeriod time.Duration `yaml:"grace_period" toml:"grace_period"`

	// ReadyTimeout is how long a freshly spawned timer daemon has to show up.
	ReadyTimeout time.Duration `yaml:"ready_timeout" toml:"ready_timeout"`

	// WorkDuration and BreakDuration are the phase lengths used for the
	// countdown and percentage. The state file does not carry them.
	WorkDuration  time.Duration `yaml:"work_duration" toml:"work_duration"`
	BreakDuration time.Duration `yaml:"break_duration" toml:"break_duration"`

	// TextFormat is the payload text template. Placeholders: {icon},
	// {status}, {remaining}, {workflow}.
	TextFormat string `yaml:"text_format" toml:"text_format"`

	// WatchState republishes as soon as the state file changes, in addition
	// to the periodic refresh. Nil means enabled.
	WatchState *bool `yaml:"watch_state" toml:"watch_state"`

	// Runner executes control verbs and liveness probes. Not configurable via file/flags.
	Runner timer.CommandRunner `yaml:"-" toml:"-"`

	// Starter launches the timer daemon. Not configurable via file/flags.
	Starter timer.ProcessStarter `yaml:"-" toml:"-"`

	// Logger is the structured logger. Not configurable via file/flags.
	Logger *slog.Logger `yaml:"-" toml:"-"`
}

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	dir := ConfigDir()
	if c.SocketPath == "" {
		c.SocketPath = filepath.Join(dir, "tomato.sock")
	}
	if c.StateFile == "" {
		c.StateFile = filepath.Join(dir, "state.json")
	}
	if c.OutputFile == "" {
		c.OutputFile = filepath.Join(dir, "waybar-output.json")
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(dir, "socket_server.log")
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.TimerBin == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.TimerBin = filepath.Join(home, ".local", "bin", "tomato-clock")
		} else {
			c.TimerBin = "tomato-clock"
		}
	}
	if c.DaemonPattern == "" {
		c.DaemonPattern = timer.DefaultDaemonPattern
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.AcceptTimeout == 0 {
		c.AcceptTimeout = DefaultAcceptTimeout
	}
	if c.ConnTimeout == 0 {
		c.ConnTimeout = DefaultConnTimeout
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = timer.DefaultGracePeriod
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = timer.DefaultReadyTimeout
	}
	if c.WorkDuration == 0 {
		c.WorkDuration = waybar.DefaultWorkDuration
	}
	if c.BreakDuration == 0 {
		c.BreakDuration = waybar.DefaultBreakDuration
	}
	if c.TextFormat == "" {
		c.TextFormat = waybar.DefaultFormat
	}
	if c.WatchState == nil {
		on := true
		c.WatchState = &on
	}
	if c.Runner == nil {
		c.Runner = timer.ExecCommandRunner
	}
	if c.Starter == nil {
		c.Starter = timer.ExecProcessStarter
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks that configuration values are valid.
// Call after ApplyDefaults.
func (c *Config) Validate() error {
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh-interval must be positive, got %v", c.RefreshInterval)
	}
	if c.AcceptTimeout <= 0 || c.AcceptTimeout > 5*time.Second {
		return fmt.Errorf("accept-timeout must be in (0, 5s], got %v", c.AcceptTimeout)
	}
	if c.ConnTimeout <= 0 {
		return fmt.Errorf("conn-timeout must be positive, got %v", c.ConnTimeout)
	}
	if c.GracePeriod < 0 || c.GracePeriod > time.Second {
		return fmt.Errorf("grace-period must be in [0, 1s], got %v", c.GracePeriod)
	}
	if c.WorkDuration < time.Second || c.BreakDuration < time.Second {
		return fmt.Errorf("phase durations must be at least 1s, got work=%v break=%v", c.WorkDuration, c.BreakDuration)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if !strings.Contains(c.TextFormat, "{") {
		return fmt.Errorf("text-format %q has no placeholders", c.TextFormat)
	}

	// Resolve paths so a detached bridge does not depend on cwd.
	for _, p := range []*string{&c.SocketPath, &c.StateFile, &c.OutputFile, &c.LogFile} {
		if filepath.IsAbs(*p) {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolving %q: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// Watch reports whether state-file watching is enabled.
func (c *Config) Watch() bool {
	return c.WatchState == nil || *c.WatchState
}

// LoadConfigFile reads a YAML or TOML config file (chosen by extension) and
// merges it into the config. Only zero-valued fields are overwritten, so
// CLI flags take precedence. Returns nil if the file does not exist.
func LoadConfigFile(path string, into *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var file Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &file); err != nil {
			return fmt.Errorf("parsing config file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	mergeConfig(&file, into)
	return nil
}

// mergeConfig copies non-zero fields from src into dst, but only where
// dst has the zero value.
func mergeConfig(src, dst *Config) {
	mergeString(&dst.SocketPath, src.SocketPath)
	mergeString(&dst.StateFile, src.StateFile)
	mergeString(&dst.OutputFile, src.OutputFile)
	mergeString(&dst.LogFile, src.LogFile)
	mergeString(&dst.LogLevel, src.LogLevel)
	mergeString(&dst.TimerBin, src.TimerBin)
	mergeString(&dst.DaemonPattern, src.DaemonPattern)
	mergeString(&dst.TextFormat, src.TextFormat)
	mergeDuration(&dst.RefreshInterval, src.RefreshInterval)
	mergeDuration(&dst.AcceptTimeout, src.AcceptTimeout)
	mergeDuration(&dst.ConnTimeout, src.ConnTimeout)
	mergeDuration(&dst.GracePeriod, src.GracePeriod)
	mergeDuration(&dst.ReadyTimeout, src.ReadyTimeout)
	mergeDuration(&dst.WorkDuration, src.WorkDuration)
	mergeDuration(&dst.BreakDuration, src.BreakDuration)
	if dst.WatchState == nil {
		dst.WatchState = src.WatchState
	}
}

func mergeString(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}

func mergeDuration(dst *time.Duration, src time.Duration) {
	if *dst == 0 {
		*dst = src
	}
}
