// Package errors provides centralized error definitions and error handling utilities
// for panehost. It defines the caller-facing failure taxonomy of the resource
// manager, error constructors with context wrapping, and classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures of a resource registry:
//   - SpawnError: a PTY session could not be started (bad shell, bad cwd, duplicate id)
//   - WatchError: a filesystem watch could not be registered (missing path, permission)
//
// Semantic errors represent common error conditions:
//   - NotFoundError: a window or profile is not known
//   - ValidationError: invalid input on a request
//
// Writes, resizes, kills and unwatches that reference an id which is no longer
// registered are not errors at all. They are expected races between user actions
// and asynchronous resource death, and the registries treat them as no-ops.
//
// # Usage
//
//	err := errors.NewSpawnError("working directory is not usable", errors.ErrInvalidWorkDir).
//	    WithSessionID("t1").WithCwd("/nope")
//
//	if errors.Is(err, errors.ErrInvalidWorkDir) { ... }
//
//	var spawnErr *errors.SpawnError
//	if errors.As(err, &spawnErr) { ... }
//
//	kind := errors.Kind(err) // "SpawnError"
//
// # Wire Kinds
//
// Kind maps any error to the short name reported to renderer windows in a
// failed response: SpawnError, WatchError, ValidationError, NotFoundError or
// InternalError.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Terminal-related sentinel errors
var (
	// ErrInvalidShell indicates the shell or command binary could not be resolved.
	ErrInvalidShell = New("shell binary not found")
	// ErrInvalidWorkDir indicates the working directory is missing or not a directory.
	ErrInvalidWorkDir = New("working directory is not a directory")
	// ErrSessionExists indicates a session id is already registered.
	ErrSessionExists = New("session id already in use")
	// ErrPTYStart indicates the pseudo-terminal could not be allocated or started.
	ErrPTYStart = New("failed to start pseudo-terminal")
)

// Watch-related sentinel errors
var (
	// ErrPathNotFound indicates a watch target does not exist.
	ErrPathNotFound = New("path does not exist")
	// ErrPermissionDenied indicates the watch target cannot be read.
	ErrPermissionDenied = New("permission denied")
	// ErrWatchExists indicates a watch id is already registered.
	ErrWatchExists = New("watch id already in use")
	// ErrWatcherClosed indicates the watch registry has been shut down.
	ErrWatcherClosed = New("watcher is closed")
)

// Window and ownership sentinel errors
var (
	// ErrWindowNotFound indicates no live window has the given id.
	ErrWindowNotFound = New("window not found")
	// ErrWindowClosing indicates the window is being torn down and accepts no new work.
	ErrWindowClosing = New("window is closing")
	// ErrOwnerMismatch indicates a resource id is already owned by a different window.
	ErrOwnerMismatch = New("resource is owned by another window")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message  string
	cause    error
	severity Severity
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// format renders "<prefix> [k=v, ...]: message: cause".
func (e *baseError) format(prefix string, parts []string) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SpawnError reports a PTY session that could not be created.
//
// Example:
//
//	err := errors.NewSpawnError("cannot resolve shell", errors.ErrInvalidShell).
//	    WithSessionID("t1").WithCommand("/bin/nosuchshell")
//	fmt.Println(err) // "spawn error [session=t1, command=/bin/nosuchshell]: cannot resolve shell: shell binary not found"
type SpawnError struct {
	baseError
	SessionID string
	Command   string
	Cwd       string
}

// NewSpawnError creates a new SpawnError.
func NewSpawnError(message string, cause error) *SpawnError {
	return &SpawnError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithSessionID adds the session id to the error context.
func (e *SpawnError) WithSessionID(id string) *SpawnError {
	e.SessionID = id
	return e
}

// WithCommand adds the command that failed to start.
func (e *SpawnError) WithCommand(command string) *SpawnError {
	e.Command = command
	return e
}

// WithCwd adds the requested working directory.
func (e *SpawnError) WithCwd(cwd string) *SpawnError {
	e.Cwd = cwd
	return e
}

// Error returns the formatted error message.
func (e *SpawnError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("command=%s", e.Command))
	}
	if e.Cwd != "" {
		parts = append(parts, fmt.Sprintf("cwd=%s", e.Cwd))
	}
	return e.format("spawn error", parts)
}

// Is checks if this error matches the target.
func (e *SpawnError) Is(target error) bool {
	_, ok := target.(*SpawnError)
	return ok
}

// WatchError reports a filesystem watch that could not be registered.
//
// Example:
//
//	err := errors.NewWatchError("cannot watch path", errors.ErrPathNotFound).
//	    WithWatchID("w1").WithPath("/proj/src")
type WatchError struct {
	baseError
	WatchID string
	Path    string
}

// NewWatchError creates a new WatchError.
func NewWatchError(message string, cause error) *WatchError {
	return &WatchError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithWatchID adds the watch id to the error context.
func (e *WatchError) WithWatchID(id string) *WatchError {
	e.WatchID = id
	return e
}

// WithPath adds the watched path to the error context.
func (e *WatchError) WithPath(path string) *WatchError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *WatchError) Error() string {
	var parts []string
	if e.WatchID != "" {
		parts = append(parts, fmt.Sprintf("watch=%s", e.WatchID))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return e.format("watch error", parts)
}

// Is checks if this error matches the target.
func (e *WatchError) Is(target error) bool {
	_, ok := target.(*WatchError)
	return ok
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a window or profile that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("window", "abc123")
//	fmt.Println(err) // "window 'abc123' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity: SeverityWarning,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// ValidationError represents invalid input on a request.
//
// Example:
//
//	err := errors.NewValidationError("session id cannot be empty").WithField("id")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			severity: SeverityWarning,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return target == ErrInvalidInput
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// Wire kinds reported to renderer windows.
const (
	KindSpawn      = "SpawnError"
	KindWatch      = "WatchError"
	KindValidation = "ValidationError"
	KindNotFound   = "NotFoundError"
	KindInternal   = "InternalError"
)

// Kind returns the wire kind for err. Errors outside the taxonomy are
// reported as InternalError.
func Kind(err error) string {
	var (
		spawnErr      *SpawnError
		watchErr      *WatchError
		validationErr *ValidationError
		notFoundErr   *NotFoundError
	)
	switch {
	case err == nil:
		return ""
	case As(err, &spawnErr):
		return KindSpawn
	case As(err, &watchErr):
		return KindWatch
	case As(err, &validationErr):
		return KindValidation
	case As(err, &notFoundErr):
		return KindNotFound
	default:
		return KindInternal
	}
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors outside the taxonomy.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var sev interface{ Severity() Severity }
	if As(err, &sev) {
		return sev.Severity()
	}
	return SeverityError
}

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to open window")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
