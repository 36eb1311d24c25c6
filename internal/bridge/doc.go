// Package bridge delivers asynchronous push events (PTY output and exit,
// filesystem changes) from the resource registries to renderer windows.
//
// Every event is addressed to exactly one window on a resource-scoped channel
// named <kind>:<event>:<resourceId>, for example "pty:data:t1" or
// "fs:change:w1". Windows share one transport without cross-talk because a
// registry only ever sends to the window that created the resource.
//
// Delivery is live tail. If the window is gone, closing, or its outbound
// queue is full, the event is dropped and counted; a renderer that is not
// listening at emission time never sees it.
//
//	b := bridge.New(host, bridge.WithLogger(logger))
//	b.Send(windowID, bridge.Channel(bridge.KindPTY, bridge.EventData, id), chunk)
package bridge
