package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "window.closed", "terminal.exited")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeWindowOpened    = "window.opened"
	TypeWindowClosed    = "window.closed"
	TypeWindowFocused   = "window.focused"
	TypeTerminalStarted = "terminal.started"
	TypeTerminalExited  = "terminal.exited"
	TypeWatchStarted    = "watch.started"
	TypeWatchStopped    = "watch.stopped"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Window Lifecycle Events
// -----------------------------------------------------------------------------

// WindowOpenedEvent is emitted when the host allocates a new top-level window.
type WindowOpenedEvent struct {
	baseEvent
	WindowID  string
	ProfileID string
}

// NewWindowOpenedEvent creates a WindowOpenedEvent.
func NewWindowOpenedEvent(windowID, profileID string) WindowOpenedEvent {
	return WindowOpenedEvent{
		baseEvent: newBaseEvent(TypeWindowOpened),
		WindowID:  windowID,
		ProfileID: profileID,
	}
}

// WindowClosedEvent is emitted exactly once per window, while the window is
// still known to the host but refusing new requests. Every registry that owns
// resources reacts to it by destroying the resources the window owned.
type WindowClosedEvent struct {
	baseEvent
	WindowID  string
	ProfileID string
	Reason    string // "requested", "detached", "attach-timeout", "shutdown"
}

// NewWindowClosedEvent creates a WindowClosedEvent.
func NewWindowClosedEvent(windowID, profileID, reason string) WindowClosedEvent {
	return WindowClosedEvent{
		baseEvent: newBaseEvent(TypeWindowClosed),
		WindowID:  windowID,
		ProfileID: profileID,
		Reason:    reason,
	}
}

// WindowFocusedEvent is emitted when a window is brought to the foreground.
type WindowFocusedEvent struct {
	baseEvent
	WindowID string
}

// NewWindowFocusedEvent creates a WindowFocusedEvent.
func NewWindowFocusedEvent(windowID string) WindowFocusedEvent {
	return WindowFocusedEvent{
		baseEvent: newBaseEvent(TypeWindowFocused),
		WindowID:  windowID,
	}
}

// -----------------------------------------------------------------------------
// Terminal Events
// -----------------------------------------------------------------------------

// TerminalStartedEvent is emitted after a PTY session's child process starts.
type TerminalStartedEvent struct {
	baseEvent
	SessionID string
	WindowID  string
	PID       int
	Command   string
}

// NewTerminalStartedEvent creates a TerminalStartedEvent.
func NewTerminalStartedEvent(sessionID, windowID string, pid int, command string) TerminalStartedEvent {
	return TerminalStartedEvent{
		baseEvent: newBaseEvent(TypeTerminalStarted),
		SessionID: sessionID,
		WindowID:  windowID,
		PID:       pid,
		Command:   command,
	}
}

// TerminalExitedEvent is emitted once per session, after it has been removed
// from the registry.
type TerminalExitedEvent struct {
	baseEvent
	SessionID string
	WindowID  string
	ExitCode  int
	Signal    string // empty unless the process died from a signal
	Killed    bool   // true when the exit followed an explicit kill
}

// NewTerminalExitedEvent creates a TerminalExitedEvent.
func NewTerminalExitedEvent(sessionID, windowID string, exitCode int, signal string, killed bool) TerminalExitedEvent {
	return TerminalExitedEvent{
		baseEvent: newBaseEvent(TypeTerminalExited),
		SessionID: sessionID,
		WindowID:  windowID,
		ExitCode:  exitCode,
		Signal:    signal,
		Killed:    killed,
	}
}

// -----------------------------------------------------------------------------
// Watch Events
// -----------------------------------------------------------------------------

// WatchStartedEvent is emitted when a watch subscription is registered.
type WatchStartedEvent struct {
	baseEvent
	WatchID  string
	WindowID string
	Path     string
}

// NewWatchStartedEvent creates a WatchStartedEvent.
func NewWatchStartedEvent(watchID, windowID, path string) WatchStartedEvent {
	return WatchStartedEvent{
		baseEvent: newBaseEvent(TypeWatchStarted),
		WatchID:   watchID,
		WindowID:  windowID,
		Path:      path,
	}
}

// WatchStoppedEvent is emitted when a watch subscription ends.
type WatchStoppedEvent struct {
	baseEvent
	WatchID  string
	WindowID string
	Path     string
	Reason   string // "unwatched" or "removed"
}

// NewWatchStoppedEvent creates a WatchStoppedEvent.
func NewWatchStoppedEvent(watchID, windowID, path, reason string) WatchStoppedEvent {
	return WatchStoppedEvent{
		baseEvent: newBaseEvent(TypeWatchStopped),
		WatchID:   watchID,
		WindowID:  windowID,
		Path:      path,
		Reason:    reason,
	}
}
