package terminal

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sourcegraph/conc"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/panehost/internal/bridge"
	"github.com/Iron-Ham/panehost/internal/config"
	"github.com/Iron-Ham/panehost/internal/errors"
	"github.com/Iron-Ham/panehost/internal/event"
	"github.com/Iron-Ham/panehost/internal/logging"
	"github.com/Iron-Ham/panehost/internal/ownership"
	"github.com/Iron-Ham/panehost/internal/platform"
)

// readBufferSize is the size of one PTY read; each read becomes at most one
// data event.
const readBufferSize = 32 * 1024

// defaultDrainTimeout bounds how long teardown waits for buffered output
// after the child has exited.
const defaultDrainTimeout = 250 * time.Millisecond

// Emitter delivers push events to a window. *bridge.Bridge implements it.
type Emitter interface {
	Send(windowID, channel string, payload any) bool
}

// Options describes a session to create.
type Options struct {
	ID       string
	WindowID string
	Cwd      string
	Command  string // empty runs the configured or platform default shell
	Args     []string
	Env      map[string]string
	Cols     uint16
	Rows     uint16
}

// Registry owns every PTY session, keyed by session id. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg          config.TerminalConfig
	index        *ownership.Index
	emit         Emitter
	bus          *event.Bus
	logger       *logging.Logger
	drainTimeout time.Duration
}

// NewRegistry creates a Registry. Sessions are recorded in index under their
// window and push their events through emit.
func NewRegistry(cfg config.TerminalConfig, index *ownership.Index, emit Emitter, bus *event.Bus, logger *logging.Logger) *Registry {
	if index == nil {
		panic("terminal: ownership index must not be nil")
	}
	if emit == nil {
		panic("terminal: Emitter must not be nil")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Registry{
		sessions:     make(map[string]*Session),
		cfg:          cfg,
		index:        index,
		emit:         emit,
		bus:          bus,
		logger:       logger.WithComponent("terminal"),
		drainTimeout: defaultDrainTimeout,
	}
}

// Create spawns a PTY session. It returns once the child has been started;
// output arrives later as pty:data events.
func (r *Registry) Create(ctx context.Context, opts Options) (Info, error) {
	if opts.ID == "" {
		return Info{}, errors.NewValidationError("session id cannot be empty").WithField("id")
	}
	if opts.WindowID == "" {
		return Info{}, errors.NewValidationError("window id cannot be empty").WithField("windowId")
	}
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}

	cwd, err := r.resolveCwd(opts.Cwd)
	if err != nil {
		return Info{}, errors.NewSpawnError("working directory is not usable", err).
			WithSessionID(opts.ID).WithCwd(opts.Cwd)
	}

	command := opts.Command
	if command == "" {
		command = r.cfg.Shell
	}
	if command == "" {
		command = platform.DefaultShell()
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return Info{}, errors.NewSpawnError("command not found",
			fmt.Errorf("%w: %w", errors.ErrInvalidShell, err)).
			WithSessionID(opts.ID).WithCommand(command)
	}

	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = uint16(r.cfg.DefaultCols)
	}
	if rows == 0 {
		rows = uint16(r.cfg.DefaultRows)
	}

	cmd := exec.Command(path, opts.Args...)
	cmd.Dir = cwd
	cmd.Env = buildEnv(os.Environ(), r.cfg.Term, opts.ID, opts.Env)

	s := &Session{
		ID:        opts.ID,
		WindowID:  opts.WindowID,
		Cwd:       cwd,
		Command:   path,
		Args:      slices.Clone(opts.Args),
		CreatedAt: time.Now(),
		state:     StateStarting,
		cols:      cols,
		rows:      rows,
		cmd:       cmd,
		readDone:  make(chan struct{}),
		waitDone:  make(chan struct{}),
	}

	r.mu.Lock()
	if _, exists := r.sessions[opts.ID]; exists {
		r.mu.Unlock()
		return Info{}, errors.NewSpawnError("cannot create session", errors.ErrSessionExists).
			WithSessionID(opts.ID)
	}
	if err := r.index.Register(ownership.KindPTY, opts.ID, opts.WindowID); err != nil {
		r.mu.Unlock()
		return Info{}, errors.NewSpawnError("cannot create session", err).WithSessionID(opts.ID)
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		r.index.Deregister(ownership.KindPTY, opts.ID)
		r.mu.Unlock()
		return Info{}, errors.NewSpawnError("failed to start process",
			fmt.Errorf("%w: %w", errors.ErrPTYStart, err)).
			WithSessionID(opts.ID).WithCommand(path).WithCwd(cwd)
	}
	s.ptmx = ptmx
	s.state = StateRunning
	r.sessions[opts.ID] = s
	r.mu.Unlock()

	go r.readLoop(s)
	go r.waitLoop(s)

	pid := s.pid()
	r.logger.WithWindow(opts.WindowID).Info("session created",
		"session_id", opts.ID, "pid", pid, "command", path, "cwd", cwd,
		"cols", cols, "rows", rows)
	r.publish(event.NewTerminalStartedEvent(opts.ID, opts.WindowID, pid, path))

	return s.info(), nil
}

func (r *Registry) resolveCwd(cwd string) (string, error) {
	if cwd == "" {
		cwd = "~"
	}
	abs, err := platform.NormalizePath(cwd)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrInvalidWorkDir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrInvalidWorkDir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", errors.ErrInvalidWorkDir, abs)
	}
	return abs, nil
}

// Write forwards input to the session. Unknown ids and sessions that are not
// running are ignored.
func (r *Registry) Write(id string, data []byte) error {
	s := r.lookup(id)
	if s == nil || s.State() != StateRunning || len(data) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.State() != StateRunning {
		return nil
	}
	if _, err := s.ptmx.Write(data); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return nil
		}
		return errors.Wrapf(err, "write to session %s", id)
	}
	return nil
}

// Resize changes the terminal size. Unknown ids, sessions that are not
// running and zero dimensions are ignored.
func (r *Registry) Resize(id string, cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return nil
	}
	s := r.lookup(id)
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return nil
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return nil
		}
		return errors.Wrapf(err, "resize session %s", id)
	}
	s.cols, s.rows = cols, rows
	return nil
}

// Kill terminates the session: SIGHUP to its process group, then SIGKILL if
// it is still alive after the grace period. Kill returns after the exit event
// has been emitted, so nothing is emitted for id afterwards. Unknown or
// already dead ids succeed.
func (r *Registry) Kill(id string) error {
	<-r.StartKill(id)
	return nil
}

// StartKill begins terminating the session and returns a channel closed once
// the exit event has been emitted. Before it returns, the session has left the
// registry and the ownership index and has been sent SIGHUP, so writes and
// resizes for id are already no-ops. The grace period and any SIGKILL happen
// in the background.
func (r *Registry) StartKill(id string) <-chan struct{} {
	done := make(chan struct{})

	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		close(done)
		return done
	}

	r.index.Deregister(ownership.KindPTY, id)
	s.setState(StateExiting)

	log := r.logger.WithWindow(s.WindowID).With("session_id", id)
	log.Debug("killing session", "pid", s.pid())
	signalGroup(s, unix.SIGHUP)

	go func() {
		defer close(done)
		if !waitFor(s.waitDone, r.cfg.KillGrace()) {
			log.Warn("session ignored SIGHUP; sending SIGKILL", "grace", r.cfg.KillGrace().String())
			signalGroup(s, unix.SIGKILL)
			<-s.waitDone
		}
		r.finish(s, true)
	}()
	return done
}

func signalGroup(s *Session, sig syscall.Signal) {
	pid := s.pid()
	if pid <= 0 {
		return
	}
	// The child is a session leader (pty.Start sets Setsid), so its pid is
	// also its process group id.
	if err := unix.Kill(-pid, sig); err != nil {
		_ = s.cmd.Process.Signal(sig)
	}
}

// readLoop streams PTY output as data events while the session is running.
func (r *Registry) readLoop(s *Session) {
	defer close(s.readDone)

	channel := bridge.Channel(bridge.KindPTY, bridge.EventData, s.ID)
	buf := make([]byte, readBufferSize)
	var pending []byte
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := append(pending, buf[:n]...)
			var complete []byte
			complete, pending = splitUTF8(chunk)
			pending = slices.Clone(pending)
			r.emitData(s, channel, complete)
		}
		if err != nil {
			if len(pending) > 0 {
				r.emitData(s, channel, pending)
			}
			if err != io.EOF && !errors.Is(err, os.ErrClosed) && !errors.Is(err, unix.EIO) {
				r.logger.WithWindow(s.WindowID).Debug("pty read ended",
					"session_id", s.ID, "error", err)
			}
			return
		}
	}
}

// emitData sends one chunk if the session is still running. The state check
// and the send happen under the session lock, so once Kill has moved the
// session to Exiting no further data can be emitted.
func (r *Registry) emitData(s *Session, channel string, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	r.emit.Send(s.WindowID, channel, string(chunk))
}

// waitLoop reaps the child. If the child exited on its own, it drains the
// remaining output and tears the session down unless Kill got there first.
func (r *Registry) waitLoop(s *Session) {
	err := s.cmd.Wait()
	s.exit = exitPayload(s.cmd.ProcessState, err)
	close(s.waitDone)

	if r.lookup(s.ID) != s {
		return
	}

	// Let the read loop flush what the child wrote before exiting.
	waitFor(s.readDone, r.drainTimeout)

	r.mu.Lock()
	owned := r.sessions[s.ID] == s
	if owned {
		delete(r.sessions, s.ID)
	}
	r.mu.Unlock()
	if !owned {
		return
	}

	r.index.Deregister(ownership.KindPTY, s.ID)
	s.setState(StateExiting)
	r.finish(s, false)
}

// finish releases the PTY and emits the exit event exactly once. Only the
// goroutine that removed s from the registry calls it.
func (r *Registry) finish(s *Session, killed bool) {
	_ = s.ptmx.Close()
	if !waitFor(s.readDone, r.drainTimeout) {
		r.logger.WithWindow(s.WindowID).Debug("read loop still blocked after close",
			"session_id", s.ID)
	}
	s.setState(StateTerminated)

	s.exitOnce.Do(func() {
		r.emit.Send(s.WindowID, bridge.Channel(bridge.KindPTY, bridge.EventExit, s.ID), s.exit)
		r.logger.WithWindow(s.WindowID).Info("session exited",
			"session_id", s.ID,
			"exit_code", s.exit.ExitCode,
			"signal", s.exit.Signal,
			"killed", killed)
		r.publish(event.NewTerminalExitedEvent(s.ID, s.WindowID, s.exit.ExitCode, s.exit.Signal, killed))
	})
}

// exitPayload converts the reaped process state. A child killed by a signal
// reports 128+signo, the shell convention.
func exitPayload(state *os.ProcessState, waitErr error) ExitPayload {
	if state == nil {
		if waitErr != nil {
			return ExitPayload{ExitCode: -1}
		}
		return ExitPayload{}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		return ExitPayload{ExitCode: 128 + int(sig), Signal: unix.SignalName(sig)}
	}
	return ExitPayload{ExitCode: state.ExitCode()}
}

// ReleaseWindow kills every session owned by windowID. It is the terminal
// registry's reaction to a window closing.
func (r *Registry) ReleaseWindow(windowID string) ownership.Result {
	return r.index.Release(windowID, ownership.Destroyer{
		Kind:    ownership.KindPTY,
		Destroy: r.Kill,
	})
}

// Shutdown kills every session concurrently. It returns ctx.Err() if ctx ends
// before all sessions are gone.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg conc.WaitGroup
		for _, id := range ids {
			wg.Go(func() { _ = r.Kill(id) })
		}
		wg.Wait()
	}()

	select {
	case <-done:
		r.logger.Info("terminal sessions shut down", "count", len(ids))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) lookup(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Get returns a snapshot of one session.
func (r *Registry) Get(id string) (Info, bool) {
	s := r.lookup(id)
	if s == nil {
		return Info{}, false
	}
	return s.info(), true
}

// List returns snapshots of all sessions ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.info())
	}
	slices.SortFunc(out, func(a, b Info) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) publish(e event.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
