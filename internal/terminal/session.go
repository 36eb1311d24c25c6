package terminal

import (
	"os"
	"os/exec"
	"sync"
	"time"
)

// State is the lifecycle state of a session.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateExiting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExiting:
		return "exiting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Info is a snapshot of a session.
type Info struct {
	ID        string    `json:"id"`
	WindowID  string    `json:"windowId"`
	Cwd       string    `json:"cwd"`
	Command   string    `json:"command"`
	Args      []string  `json:"args,omitempty"`
	PID       int       `json:"pid"`
	Cols      uint16    `json:"cols"`
	Rows      uint16    `json:"rows"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExitPayload is pushed on pty:exit:<id>.
type ExitPayload struct {
	ExitCode int    `json:"exitCode"`
	Signal   string `json:"signal,omitempty"`
}

// Session is one PTY-backed child process. Only the registry mutates it.
type Session struct {
	ID        string
	WindowID  string
	Cwd       string
	Command   string
	Args      []string
	CreatedAt time.Time

	mu    sync.Mutex // guards state, cols, rows; held while emitting data
	state State
	cols  uint16
	rows  uint16

	writeMu sync.Mutex // serializes input writes
	cmd     *exec.Cmd
	ptmx    *os.File

	readDone chan struct{} // closed when the read loop returns
	waitDone chan struct{} // closed after the child has been reaped
	exit     ExitPayload   // valid once waitDone is closed
	exitOnce sync.Once
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) pid() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID,
		WindowID:  s.WindowID,
		Cwd:       s.Cwd,
		Command:   s.Command,
		Args:      append([]string(nil), s.Args...),
		PID:       s.pid(),
		Cols:      s.cols,
		Rows:      s.rows,
		State:     s.state.String(),
		CreatedAt: s.CreatedAt,
	}
}

// waitFor blocks until ch is closed or d elapses. It reports whether ch closed.
func waitFor(ch <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
