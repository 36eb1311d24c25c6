package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/panehost/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View panehost configuration",
	Long: `View panehost configuration.

Without arguments, displays the effective configuration: defaults, the
config file and PANEHOST_* environment variables merged.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	out := cmd.OutOrStdout()

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Config file: %s\n\n", used)
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n\n")
	}

	section(out, "terminal")
	field(out, "shell", valueOr(cfg.Terminal.Shell, "(platform default)"))
	field(out, "term", cfg.Terminal.Term)
	field(out, "default_cols", cfg.Terminal.DefaultCols)
	field(out, "default_rows", cfg.Terminal.DefaultRows)
	field(out, "kill_grace_ms", cfg.Terminal.KillGraceMs)

	section(out, "watch")
	field(out, "debounce_ms", cfg.Watch.DebounceMs)
	field(out, "ignore", strings.Join(cfg.Watch.Ignore, ", "))

	section(out, "window")
	field(out, "launch_command", valueOr(strings.Join(cfg.Window.LaunchCommand, " "), "(headless)"))
	field(out, "attach_timeout_seconds", cfg.Window.AttachTimeoutSeconds)
	field(out, "send_buffer", cfg.Window.SendBuffer)

	section(out, "server")
	field(out, "listen", cfg.Server.Listen)

	section(out, "logging")
	field(out, "enabled", cfg.Logging.Enabled)
	field(out, "level", cfg.Logging.Level)
	field(out, "dir", valueOr(cfg.Logging.Dir, "(stderr)"))
	field(out, "max_size_mb", cfg.Logging.MaxSizeMB)
	field(out, "max_backups", cfg.Logging.MaxBackups)

	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), config.ConfigFile())
	return nil
}

func section(w io.Writer, name string) {
	if isTerminal(w) {
		name = headerStyle.Render(name)
	}
	fmt.Fprintf(w, "%s:\n", name)
}

func field(w io.Writer, key string, value any) {
	fmt.Fprintf(w, "  %s: %v\n", key, value)
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
