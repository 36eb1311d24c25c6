package bridge

import (
	"strings"
	"sync/atomic"

	"github.com/Iron-Ham/panehost/internal/logging"
)

// Resource kinds used as the first channel segment.
const (
	KindPTY    = "pty"
	KindFS     = "fs"
	KindWindow = "window"
)

// Push event names used as the second channel segment.
const (
	EventData    = "data"
	EventExit    = "exit"
	EventChange  = "change"
	EventRemoved = "removed"
)

// Bridge routes push events to the single window that owns the emitting
// resource. Events for windows that are gone are dropped; nothing is
// buffered or replayed.
type Bridge struct {
	target Deliverer
	logger *logging.Logger

	delivered       atomic.Uint64
	droppedNoWindow atomic.Uint64
	droppedFull     atomic.Uint64
}

// New creates a Bridge delivering through target. A nil target panics early
// to surface wiring bugs.
func New(target Deliverer, opts ...Option) *Bridge {
	if target == nil {
		panic("bridge: Deliverer must not be nil")
	}

	cfg := &config{logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}

	return &Bridge{
		target: target,
		logger: cfg.logger.WithComponent("bridge"),
	}
}

// Send delivers payload to windowID on channel. It never blocks and reports
// whether the event was queued.
func (b *Bridge) Send(windowID, channel string, payload any) bool {
	status := b.target.Deliver(windowID, channel, payload)
	switch status {
	case Delivered:
		b.delivered.Add(1)
		return true
	case QueueFull:
		b.droppedFull.Add(1)
		b.logger.Warn("push event dropped: window queue full",
			"window_id", windowID, "channel", channel)
	default:
		b.droppedNoWindow.Add(1)
		b.logger.Debug("push event dropped: window gone",
			"window_id", windowID, "channel", channel)
	}
	return false
}

// Stats returns a snapshot of the delivery counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Delivered:       b.delivered.Load(),
		DroppedNoWindow: b.droppedNoWindow.Load(),
		DroppedFull:     b.droppedFull.Load(),
	}
}

// Channel builds a resource-scoped channel name: <kind>:<event>:<resourceID>.
func Channel(kind, event, resourceID string) string {
	return kind + ":" + event + ":" + resourceID
}

// ParseChannel splits a channel built by Channel. Resource ids may themselves
// contain colons.
func ParseChannel(channel string) (kind, event, resourceID string, ok bool) {
	parts := strings.SplitN(channel, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
