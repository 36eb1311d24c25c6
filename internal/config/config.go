package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete panehost configuration
type Config struct {
	Terminal TerminalConfig `mapstructure:"terminal"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Window   WindowConfig   `mapstructure:"window"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// TerminalConfig controls PTY session creation and teardown
type TerminalConfig struct {
	// Shell overrides the platform default shell for sessions created without
	// an explicit command. Empty uses $SHELL, then /bin/sh.
	Shell string `mapstructure:"shell"`
	// Term is the TERM value exported to child processes (default: "xterm-256color")
	Term string `mapstructure:"term"`
	// DefaultCols is the terminal width used when a request omits cols (default: 80)
	DefaultCols int `mapstructure:"default_cols"`
	// DefaultRows is the terminal height used when a request omits rows (default: 24)
	DefaultRows int `mapstructure:"default_rows"`
	// KillGraceMs is how long a killed session may take to exit after SIGHUP
	// before it is sent SIGKILL (default: 3000)
	KillGraceMs int `mapstructure:"kill_grace_ms"`
}

// WatchConfig controls filesystem watch behavior
type WatchConfig struct {
	// DebounceMs is the quiet period after the most recent raw event before a
	// single change notification is emitted (default: 300)
	DebounceMs int `mapstructure:"debounce_ms"`
	// Ignore lists glob patterns (matched against absolute paths) for
	// directories that are never watched and events that are never reported.
	Ignore []string `mapstructure:"ignore"`
}

// WindowConfig controls top-level window handling
type WindowConfig struct {
	// LaunchCommand starts a renderer process for a new window. It runs with
	// PANEHOST_WINDOW_ID, PANEHOST_PROFILE_ID and PANEHOST_ADDR set.
	// Empty runs headless: renderers attach on their own.
	LaunchCommand []string `mapstructure:"launch_command"`
	// AttachTimeoutSeconds closes a window whose renderer has not connected
	// within this many seconds (default: 30, 0 = wait forever)
	AttachTimeoutSeconds int `mapstructure:"attach_timeout_seconds"`
	// SendBuffer is the number of outbound frames queued per window before
	// push events are dropped (default: 256)
	SendBuffer int `mapstructure:"send_buffer"`
}

// ServerConfig controls the local transport renderers connect to
type ServerConfig struct {
	// Listen is the address of the HTTP/WebSocket listener (default: "127.0.0.1:7433")
	Listen string `mapstructure:"listen"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the directory holding panehost.log. Empty logs to stderr.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Terminal: TerminalConfig{
			Shell:       "",
			Term:        "xterm-256color",
			DefaultCols: 80,
			DefaultRows: 24,
			KillGraceMs: 3000,
		},
		Watch: WatchConfig{
			DebounceMs: 300,
			Ignore:     []string{"**/.git", "**/node_modules"},
		},
		Window: WindowConfig{
			LaunchCommand:        []string{},
			AttachTimeoutSeconds: 30,
			SendBuffer:           256,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:7433",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// KillGrace returns the kill grace period as a time.Duration
func (c *TerminalConfig) KillGrace() time.Duration {
	return time.Duration(c.KillGraceMs) * time.Millisecond
}

// Debounce returns the debounce window as a time.Duration
func (c *WatchConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// AttachTimeout returns the renderer attach timeout (0 means disabled)
func (c *WindowConfig) AttachTimeout() time.Duration {
	return time.Duration(c.AttachTimeoutSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Terminal defaults
	viper.SetDefault("terminal.shell", defaults.Terminal.Shell)
	viper.SetDefault("terminal.term", defaults.Terminal.Term)
	viper.SetDefault("terminal.default_cols", defaults.Terminal.DefaultCols)
	viper.SetDefault("terminal.default_rows", defaults.Terminal.DefaultRows)
	viper.SetDefault("terminal.kill_grace_ms", defaults.Terminal.KillGraceMs)

	// Watch defaults
	viper.SetDefault("watch.debounce_ms", defaults.Watch.DebounceMs)
	viper.SetDefault("watch.ignore", defaults.Watch.Ignore)

	// Window defaults
	viper.SetDefault("window.launch_command", defaults.Window.LaunchCommand)
	viper.SetDefault("window.attach_timeout_seconds", defaults.Window.AttachTimeoutSeconds)
	viper.SetDefault("window.send_buffer", defaults.Window.SendBuffer)

	// Server defaults
	viper.SetDefault("server.listen", defaults.Server.Listen)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "panehost")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".panehost"
	}
	return filepath.Join(home, ".config", "panehost")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
