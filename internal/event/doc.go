// Package event provides a synchronous pub-sub event bus for decoupled
// communication inside the panehost main process.
//
// The window host publishes a [WindowClosedEvent] when a window goes away;
// the terminal registry, the watch registry and the profile directory each
// subscribe to it independently and react only to what they own. No single
// function needs to know about every resource kind.
//
// # Main Types
//
//   - [Event]: Interface that all events implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub dispatcher, safe for concurrent use
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Window lifecycle:
//   - [WindowOpenedEvent], [WindowFocusedEvent]
//   - [WindowClosedEvent]: drives cascade teardown
//
// Resource lifecycle (diagnostics):
//   - [TerminalStartedEvent], [TerminalExitedEvent]
//   - [WatchStartedEvent], [WatchStoppedEvent]
//
// # Delivery
//
// Publish calls handlers synchronously on the publishing goroutine. Specific
// handlers run before wildcard handlers, each group in registration order.
// A handler panic is recovered and logged; the remaining handlers still run.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeWindowClosed, func(e event.Event) {
//	    closed := e.(event.WindowClosedEvent)
//	    registry.ReleaseWindow(closed.WindowID)
//	})
//	bus.Publish(event.NewWindowClosedEvent(id, profileID, "requested"))
package event
