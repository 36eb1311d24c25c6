package terminal

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/Iron-Ham/panehost/internal/platform"
)

// EnvSessionID is exported to every child so shells can tell they run
// inside a panehost terminal.
const EnvSessionID = "PANEHOST_SESSION_ID"

// buildEnv returns base with parent-terminal variables removed, TERM and the
// session id set, and overrides applied last. The result is sorted.
func buildEnv(base []string, term, sessionID string, overrides map[string]string) []string {
	env := make(map[string]string, len(base)+4)
	for _, entry := range base {
		if k, v, ok := strings.Cut(entry, "="); ok && k != "" {
			env[k] = v
		}
	}
	for _, key := range platform.ParentTerminalVars {
		delete(env, key)
	}

	env["TERM"] = term
	if env["COLORTERM"] == "" {
		env["COLORTERM"] = "truecolor"
	}
	env[EnvSessionID] = sessionID

	for k, v := range overrides {
		if k == "" {
			continue
		}
		env[k] = v
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}

// splitUTF8 splits buf into a prefix ending on a rune boundary and a short
// tail holding an incomplete trailing sequence, so multi-byte characters are
// never split across two data events.
func splitUTF8(buf []byte) (complete, tail []byte) {
	// A UTF-8 sequence is at most 4 bytes; only the last 3 can be incomplete.
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-3; i-- {
		b := buf[i]
		if b < utf8.RuneSelf {
			break
		}
		if utf8.RuneStart(b) {
			if !utf8.FullRune(buf[i:]) {
				return buf[:i], buf[i:]
			}
			break
		}
	}
	return buf, nil
}
