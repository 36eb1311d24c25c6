package config

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "terminal.kill_grace_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateTerminal()...)
	errors = append(errors, c.validateWatch()...)
	errors = append(errors, c.validateWindow()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateTerminal validates the TerminalConfig
func (c *Config) validateTerminal() []ValidationError {
	var errors []ValidationError

	const minCols, maxCols = 2, 1000
	const minRows, maxRows = 1, 500

	if c.Terminal.DefaultCols < minCols || c.Terminal.DefaultCols > maxCols {
		errors = append(errors, ValidationError{
			Field:   "terminal.default_cols",
			Value:   c.Terminal.DefaultCols,
			Message: fmt.Sprintf("must be between %d and %d", minCols, maxCols),
		})
	}
	if c.Terminal.DefaultRows < minRows || c.Terminal.DefaultRows > maxRows {
		errors = append(errors, ValidationError{
			Field:   "terminal.default_rows",
			Value:   c.Terminal.DefaultRows,
			Message: fmt.Sprintf("must be between %d and %d", minRows, maxRows),
		})
	}

	const minGrace, maxGrace = 10, 60_000
	if c.Terminal.KillGraceMs < minGrace || c.Terminal.KillGraceMs > maxGrace {
		errors = append(errors, ValidationError{
			Field:   "terminal.kill_grace_ms",
			Value:   c.Terminal.KillGraceMs,
			Message: fmt.Sprintf("must be between %dms and %dms", minGrace, maxGrace),
		})
	}

	if c.Terminal.Term == "" {
		errors = append(errors, ValidationError{
			Field:   "terminal.term",
			Value:   c.Terminal.Term,
			Message: "cannot be empty",
		})
	}

	return errors
}

// validateWatch validates the WatchConfig
func (c *Config) validateWatch() []ValidationError {
	var errors []ValidationError

	const minDebounce, maxDebounce = 1, 10_000
	if c.Watch.DebounceMs < minDebounce || c.Watch.DebounceMs > maxDebounce {
		errors = append(errors, ValidationError{
			Field:   "watch.debounce_ms",
			Value:   c.Watch.DebounceMs,
			Message: fmt.Sprintf("must be between %dms and %dms", minDebounce, maxDebounce),
		})
	}

	for _, pattern := range c.Watch.Ignore {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   "watch.ignore",
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}

	return errors
}

// validateWindow validates the WindowConfig
func (c *Config) validateWindow() []ValidationError {
	var errors []ValidationError

	if c.Window.AttachTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "window.attach_timeout_seconds",
			Value:   c.Window.AttachTimeoutSeconds,
			Message: "must be non-negative (0 disables timeout)",
		})
	}
	if c.Window.SendBuffer < 1 {
		errors = append(errors, ValidationError{
			Field:   "window.send_buffer",
			Value:   c.Window.SendBuffer,
			Message: "must be at least 1",
		})
	}
	if len(c.Window.LaunchCommand) > 0 && strings.TrimSpace(c.Window.LaunchCommand[0]) == "" {
		errors = append(errors, ValidationError{
			Field:   "window.launch_command",
			Value:   c.Window.LaunchCommand,
			Message: "first element must name an executable",
		})
	}

	return errors
}

// validateServer validates the ServerConfig
func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errors = append(errors, ValidationError{
			Field:   "server.listen",
			Value:   c.Server.Listen,
			Message: "must be a host:port address",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative (0 disables rotation)",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
