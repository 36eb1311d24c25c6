// Package logging provides structured logging for the panehost main process.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation, so that the lifecycle of every terminal session and
// filesystem watch can be reconstructed per window after the fact.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (component, window id, profile id)
//   - Size-based log rotation with numbered backups
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/panehost", "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	termLog := logger.WithComponent("terminal").WithWindow(windowID)
//	termLog.Info("session created", "session_id", id, "pid", pid)
package logging
