package bridge

// Status is the outcome of handing one push event to a window.
type Status int

const (
	// Delivered means the event was queued on the window's transport.
	Delivered Status = iota
	// NoWindow means the window is unknown, closing, or has no renderer attached.
	NoWindow
	// QueueFull means the window's outbound queue had no room.
	QueueFull
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case NoWindow:
		return "no-window"
	case QueueFull:
		return "queue-full"
	default:
		return "unknown"
	}
}

// Deliverer hands a push event to a live window without blocking.
// The window host implements it.
type Deliverer interface {
	Deliver(windowID, channel string, payload any) Status
}

// Stats holds delivery counters.
type Stats struct {
	Delivered       uint64
	DroppedNoWindow uint64
	DroppedFull     uint64
}

// Dropped returns the total number of dropped events.
func (s Stats) Dropped() uint64 { return s.DroppedNoWindow + s.DroppedFull }
