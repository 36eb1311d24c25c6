package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/panehost/internal/config"
	"github.com/Iron-Ham/panehost/internal/core"
	"github.com/Iron-Ham/panehost/internal/ipc"
	"github.com/Iron-Ham/panehost/internal/logging"
	"github.com/Iron-Ham/panehost/internal/platform"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the resource manager",
	Long: `Run the resource manager and listen for renderer connections.

Renderers attach at ws://<listen>/windows/<window-id>/ws. When
window.launch_command is set, opening a profile starts a renderer process
with PANEHOST_WINDOW_ID, PANEHOST_PROFILE_ID and PANEHOST_ADDR in its
environment. SIGINT or SIGTERM closes every window and its resources.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "listen address (overrides server.listen)")
	_ = viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	c, err := core.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := ipc.NewServer(c, logger)
	fmt.Fprintf(cmd.OutOrStdout(), "panehost listening on %s\n", cfg.Server.Listen)
	serveErr := server.ListenAndServe(ctx, cfg.Server.Listen)
	stop()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.Close(closeCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	if !cfg.Enabled {
		return logging.NopLogger(), nil
	}
	dir := platform.ExpandHome(cfg.Dir)
	logger, err := logging.NewLogger(dir, cfg.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	return logger, nil
}
