// Package platform answers host questions the resource registries need:
// which shell to run by default and how user-supplied paths are normalized.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// fallbackShells are tried in order when $SHELL is unset or unusable.
var fallbackShells = []string{"/bin/bash", "/bin/zsh", "/bin/sh"}

// DefaultShell returns the user's login shell from $SHELL, falling back to
// the first existing entry of /bin/bash, /bin/zsh and /bin/sh.
func DefaultShell() string {
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}
	if shell := os.Getenv("SHELL"); shell != "" && isExecutable(shell) {
		return shell
	}
	for _, candidate := range fallbackShells {
		if isExecutable(candidate) {
			return candidate
		}
	}
	return "/bin/sh"
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

// ExpandHome replaces a leading "~" or "~/" with the user's home directory.
// Other paths, including "~user" forms, are returned unchanged.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// NormalizePath expands a leading "~", makes the path absolute and cleans it.
// It does not require the path to exist.
func NormalizePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", os.ErrInvalid
	}
	abs, err := filepath.Abs(ExpandHome(path))
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// ParentTerminalVars lists variables set by terminal emulators and
// multiplexers that must not leak into spawned PTY sessions.
var ParentTerminalVars = []string{
	"TMUX",
	"TMUX_PANE",
	"TERM_PROGRAM",
	"TERM_PROGRAM_VERSION",
	"TERM_SESSION_ID",
	"STY",
	"WT_SESSION",
	"WEZTERM_EXECUTABLE",
	"ALACRITTY_SOCKET",
	"KITTY_WINDOW_ID",
	"ITERM_SESSION_ID",
}
