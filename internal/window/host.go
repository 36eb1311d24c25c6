// Package window tracks the application's live top-level windows.
//
// A window is opened for a profile, optionally by starting a renderer
// process, and becomes reachable once its renderer attaches a transport
// [Sink]. When a window goes away for any reason the host publishes a single
// [event.WindowClosedEvent] and waits for every subscriber to finish before
// forgetting the window, so resource teardown always completes while the
// window id is still known.
package window

import (
	"cmp"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/panehost/internal/bridge"
	"github.com/Iron-Ham/panehost/internal/config"
	"github.com/Iron-Ham/panehost/internal/errors"
	"github.com/Iron-Ham/panehost/internal/event"
	"github.com/Iron-Ham/panehost/internal/logging"
)

// Close reasons carried by WindowClosedEvent.
const (
	ReasonRequested     = "requested"
	ReasonDetached      = "detached"
	ReasonAttachTimeout = "attach-timeout"
	ReasonShutdown      = "shutdown"
)

// FocusChannel is the push channel a renderer receives when asked to raise
// its window.
const FocusChannel = "window:focus"

// Environment variables passed to the launch command.
const (
	EnvWindowID  = "PANEHOST_WINDOW_ID"
	EnvProfileID = "PANEHOST_PROFILE_ID"
	EnvAddr      = "PANEHOST_ADDR"
)

// Sink is a renderer transport attached to a window. Push must not block:
// it returns false when the event cannot be queued.
type Sink interface {
	Push(channel string, payload any) bool
	Close()
}

// Info is a snapshot of one window.
type Info struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profileId"`
	OpenedAt  time.Time `json:"openedAt"`
	Attached  bool      `json:"attached"`
	PID       int       `json:"pid,omitempty"`
}

type window struct {
	id        string
	profileID string
	openedAt  time.Time
	closing   bool
	sink      Sink
	launcher  *exec.Cmd
	exited    chan struct{} // closed when the launcher process has been reaped
	timer     *time.Timer
}

func (w *window) info() Info {
	info := Info{
		ID:        w.id,
		ProfileID: w.profileID,
		OpenedAt:  w.openedAt,
		Attached:  w.sink != nil,
	}
	if w.launcher != nil && w.launcher.Process != nil {
		info.PID = w.launcher.Process.Pid
	}
	return info
}

// Host is the live-window table. It is safe for concurrent use.
type Host struct {
	mu      sync.RWMutex
	windows map[string]*window
	addr    string

	launchCommand []string
	attachTimeout time.Duration

	bus    *event.Bus
	logger *logging.Logger
	newID  func() string
}

// Option configures a Host.
type Option func(*Host)

// WithAttachTimeout overrides the configured attach timeout. Zero disables it.
func WithAttachTimeout(d time.Duration) Option {
	return func(h *Host) { h.attachTimeout = d }
}

// WithIDGenerator replaces the window id generator.
func WithIDGenerator(fn func() string) Option {
	return func(h *Host) { h.newID = fn }
}

// NewHost creates a Host publishing window lifecycle events on bus.
func NewHost(cfg config.WindowConfig, bus *event.Bus, logger *logging.Logger, opts ...Option) *Host {
	if logger == nil {
		logger = logging.NopLogger()
	}
	h := &Host{
		windows:       make(map[string]*window),
		launchCommand: slices.Clone(cfg.LaunchCommand),
		attachTimeout: cfg.AttachTimeout(),
		bus:           bus,
		logger:        logger.WithComponent("window"),
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetAddr records the transport address handed to launched renderers.
func (h *Host) SetAddr(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addr = addr
}

// Open allocates a new window for profileID and starts its renderer when a
// launch command is configured. The window is live immediately; push events
// are dropped until a renderer attaches.
func (h *Host) Open(profileID string) (string, error) {
	id := h.newID()
	w := &window{
		id:        id,
		profileID: profileID,
		openedAt:  time.Now(),
	}

	h.mu.Lock()
	addr := h.addr
	h.windows[id] = w
	h.mu.Unlock()

	if len(h.launchCommand) > 0 {
		cmd, exited, err := h.launch(w, addr)
		if err != nil {
			h.mu.Lock()
			delete(h.windows, id)
			h.mu.Unlock()
			return "", errors.Wrapf(err, "launch renderer for profile %s", profileID)
		}
		h.mu.Lock()
		w.launcher, w.exited = cmd, exited
		h.mu.Unlock()
	}

	if h.attachTimeout > 0 {
		h.mu.Lock()
		w.timer = time.AfterFunc(h.attachTimeout, func() { h.expireAttach(id) })
		h.mu.Unlock()
	}

	h.logger.WithWindow(id).WithProfile(profileID).Info("window opened")
	h.publish(event.NewWindowOpenedEvent(id, profileID))
	return id, nil
}

func (h *Host) launch(w *window, addr string) (*exec.Cmd, chan struct{}, error) {
	cmd := exec.Command(h.launchCommand[0], h.launchCommand[1:]...)
	cmd.Env = append(os.Environ(),
		EnvWindowID+"="+w.id,
		EnvProfileID+"="+w.profileID,
		EnvAddr+"="+addr,
	)
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}

	log := h.logger.WithWindow(w.id)
	log.Debug("renderer launched", "pid", cmd.Process.Pid, "command", h.launchCommand[0])
	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		close(exited)
		log.Debug("renderer process exited", "error", err)
	}()
	return cmd, exited, nil
}

func (h *Host) expireAttach(windowID string) {
	h.mu.RLock()
	w, ok := h.windows[windowID]
	pending := ok && !w.closing && w.sink == nil
	h.mu.RUnlock()

	if pending {
		h.logger.WithWindow(windowID).Warn("renderer never attached; closing window",
			"timeout", h.attachTimeout.String())
		h.closeWindow(windowID, ReasonAttachTimeout)
	}
}

// Attach binds a renderer transport to the window. A second attach replaces
// the previous sink, which is closed.
func (h *Host) Attach(windowID string, sink Sink) error {
	h.mu.Lock()
	w, ok := h.windows[windowID]
	if !ok {
		h.mu.Unlock()
		return errors.NewNotFoundError("window", windowID).WithCause(errors.ErrWindowNotFound)
	}
	if w.closing {
		h.mu.Unlock()
		return errors.Wrapf(errors.ErrWindowClosing, "attach %s", windowID)
	}
	previous := w.sink
	w.sink = sink
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	h.mu.Unlock()

	if previous != nil && previous != sink {
		previous.Close()
	}
	h.logger.WithWindow(windowID).Info("renderer attached", "replaced", previous != nil)
	return nil
}

// Detach reports that sink lost its connection. If sink is still the
// window's current transport, the window is closed: a renderer that goes
// away has crashed or been closed by the user.
func (h *Host) Detach(windowID string, sink Sink) {
	h.mu.RLock()
	w, ok := h.windows[windowID]
	current := ok && w.sink == sink
	h.mu.RUnlock()

	if current {
		h.closeWindow(windowID, ReasonDetached)
	}
}

// Focus asks the window's renderer to raise itself.
func (h *Host) Focus(windowID string) error {
	if !h.IsLive(windowID) {
		return errors.NewNotFoundError("window", windowID).WithCause(errors.ErrWindowNotFound)
	}
	if status := h.Deliver(windowID, FocusChannel, map[string]string{"windowId": windowID}); status != bridge.Delivered {
		h.logger.WithWindow(windowID).Debug("focus request not delivered", "status", status.String())
	}
	h.publish(event.NewWindowFocusedEvent(windowID))
	return nil
}

// Close closes the window. It reports false when the window is unknown or
// already closing.
func (h *Host) Close(windowID string) bool {
	return h.closeWindow(windowID, ReasonRequested)
}

// closeWindow marks the window closing, publishes WindowClosedEvent and waits
// for all subscribers, then forgets the window and releases its transport.
func (h *Host) closeWindow(windowID, reason string) bool {
	h.mu.Lock()
	w, ok := h.windows[windowID]
	if !ok || w.closing {
		h.mu.Unlock()
		return false
	}
	w.closing = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	profileID := w.profileID
	h.mu.Unlock()

	log := h.logger.WithWindow(windowID).WithProfile(profileID)
	log.Info("window closing", "reason", reason)

	h.publish(event.NewWindowClosedEvent(windowID, profileID, reason))

	h.mu.Lock()
	delete(h.windows, windowID)
	sink, launcher, exited := w.sink, w.launcher, w.exited
	h.mu.Unlock()

	if sink != nil {
		sink.Close()
	}
	if launcher != nil {
		select {
		case <-exited:
		default:
			_ = launcher.Process.Signal(os.Interrupt)
		}
	}
	log.Info("window closed")
	return true
}

// CloseAll closes every window with the given reason.
func (h *Host) CloseAll(reason string) {
	for _, info := range h.List() {
		h.closeWindow(info.ID, reason)
	}
}

// Deliver implements bridge.Deliverer.
func (h *Host) Deliver(windowID, channel string, payload any) bridge.Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	w, ok := h.windows[windowID]
	if !ok || w.closing || w.sink == nil {
		return bridge.NoWindow
	}
	if !w.sink.Push(channel, payload) {
		return bridge.QueueFull
	}
	return bridge.Delivered
}

// IsLive reports whether the window exists and is not closing.
func (h *Host) IsLive(windowID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	w, ok := h.windows[windowID]
	return ok && !w.closing
}

// Get returns a snapshot of one live window.
func (h *Host) Get(windowID string) (Info, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	w, ok := h.windows[windowID]
	if !ok || w.closing {
		return Info{}, false
	}
	return w.info(), true
}

// List returns snapshots of all live windows, oldest first.
func (h *Host) List() []Info {
	h.mu.RLock()
	out := make([]Info, 0, len(h.windows))
	for _, w := range h.windows {
		if !w.closing {
			out = append(out, w.info())
		}
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b Info) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Count returns the number of live windows.
func (h *Host) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, w := range h.windows {
		if !w.closing {
			n++
		}
	}
	return n
}

func (h *Host) publish(e event.Event) {
	if h.bus != nil {
		h.bus.Publish(e)
	}
}
