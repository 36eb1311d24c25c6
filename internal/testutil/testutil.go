// Package testutil provides testing utilities for panehost tests.
package testutil

import (
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"
)

// pollInterval is how often WaitUntil re-evaluates its condition.
const pollInterval = 10 * time.Millisecond

// WaitUntil polls cond until it returns true, failing the test with msg if
// timeout passes first.
func WaitUntil(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(pollInterval)
	}
}

// SequentialIDs returns a goroutine-safe generator of "<prefix>-1",
// "<prefix>-2", ... for deterministic window ids.
func SequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// SkipIfNoShell skips tests that spawn /bin/sh when it is not available.
func SkipIfNoShell(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}
