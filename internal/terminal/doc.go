// Package terminal owns the pseudo-terminal sessions of all windows.
//
// Each [Session] runs one child process attached to a PTY. The [Registry]
// keys sessions by an opaque id chosen by the renderer and records each id
// in the ownership index under the window that created it.
//
// # Lifecycle
//
// A session moves Starting -> Running -> Exiting -> Terminated. Only a
// Running session accepts input and resize requests; anything else,
// including an unknown id, is a silent no-op because writes racing with
// process death are normal.
//
// A session ends in one of two ways:
//
//   - Kill: the session is removed from the registry and the ownership
//     index first, then its process group receives SIGHUP, then SIGKILL
//     after the configured grace period. Kill returns after the exit
//     event has been emitted.
//   - Spontaneous exit: the wait loop reaps the child, lets the read loop
//     flush buffered output, then removes the session and emits the exit
//     event.
//
// Whichever path removes the session from the registry owns teardown, so
// the pty:exit event is emitted exactly once per session.
//
// # Push Events
//
//   - pty:data:<id>: output chunk (string, never splitting a UTF-8 sequence)
//   - pty:exit:<id>: [ExitPayload]
package terminal
