// Package internal holds cross-package tests that run the composed main
// process: the window host, the registries and the event bus together.
package internal

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/panehost/internal/config"
	"github.com/Iron-Ham/panehost/internal/core"
	"github.com/Iron-Ham/panehost/internal/event"
	"github.com/Iron-Ham/panehost/internal/terminal"
	"github.com/Iron-Ham/panehost/internal/testutil"
	"github.com/Iron-Ham/panehost/internal/window"
)

type capture struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *capture) handle(e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capture) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.EventType()
	}
	return out
}

func newCore(t *testing.T) *core.Core {
	t.Helper()
	testutil.SkipIfNoShell(t)
	cfg := config.Default()
	cfg.Terminal.Shell = "/bin/sh"
	cfg.Terminal.KillGraceMs = 300
	cfg.Watch.DebounceMs = 50

	c, err := core.New(cfg, nil, core.WithWindowOptions(
		window.WithAttachTimeout(0),
		window.WithIDGenerator(testutil.SequentialIDs("win")),
	))
	if err != nil {
		t.Fatalf("core.New failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

// TestLifecycleEvents follows one window from open to close and checks that
// every resource it owned reported its end before window.closed returned.
func TestLifecycleEvents(t *testing.T) {
	c := newCore(t)
	var got capture
	c.Bus.SubscribeAll(got.handle)

	win, err := c.Profiles.OpenOrFocus("work")
	if err != nil {
		t.Fatalf("OpenOrFocus failed: %v", err)
	}
	if _, err := c.Terminals.Create(context.Background(), terminal.Options{ID: "t1", WindowID: win}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := c.Watches.Watch("w1", win, t.TempDir()); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	c.Windows.Close(win)

	types := got.types()
	want := map[string]bool{
		event.TypeWindowOpened:    false,
		event.TypeTerminalStarted: false,
		event.TypeWatchStarted:    false,
		event.TypeWindowClosed:    false,
		event.TypeTerminalExited:  false,
		event.TypeWatchStopped:    false,
	}
	for _, typ := range types {
		if _, ok := want[typ]; ok {
			want[typ] = true
		}
	}
	for typ, seen := range want {
		if !seen {
			t.Errorf("missing %s event; got %v", typ, types)
		}
	}
	if types[0] != event.TypeWindowOpened {
		t.Errorf("first event = %s, want %s", types[0], event.TypeWindowOpened)
	}
	if c.Terminals.Count() != 0 || c.Watches.Count() != 0 {
		t.Errorf("resources left: terminals=%d watches=%d", c.Terminals.Count(), c.Watches.Count())
	}
}

// TestSpontaneousExitIsRemovedImmediately checks that a session whose
// process exits on its own leaves the registry and the ownership index
// without waiting for its window to close.
func TestSpontaneousExitIsRemovedImmediately(t *testing.T) {
	c := newCore(t)
	win, _ := c.Profiles.OpenOrFocus("work")

	_, err := c.Terminals.Create(context.Background(), terminal.Options{
		ID: "short", WindowID: win, Command: "/bin/sh", Args: []string{"-c", "exit 0"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	testutil.WaitUntil(t, 5*time.Second, func() bool {
		_, ok := c.Terminals.Get("short")
		return !ok
	}, "exited session stayed registered")
	if res := c.Index.Resources(win); len(res) != 0 {
		t.Errorf("index still lists %v for %s", res, win)
	}
	if !c.Windows.IsLive(win) {
		t.Error("a session exiting must not close its window")
	}
}

// TestProfileSwitch closes one profile's window while another stays open;
// only the closed window's resources go away.
func TestProfileSwitch(t *testing.T) {
	c := newCore(t)
	work, _ := c.Profiles.OpenOrFocus("work")
	play, _ := c.Profiles.OpenOrFocus("play")

	dir := t.TempDir()
	if err := c.Watches.Watch("work-src", work, dir); err != nil {
		t.Fatal(err)
	}
	if err := c.Watches.Watch("play-src", play, dir); err != nil {
		t.Fatal(err)
	}

	c.Windows.Close(work)

	if _, ok := c.Watches.Get("work-src"); ok {
		t.Error("closed window's watch survived")
	}
	if _, ok := c.Watches.Get("play-src"); !ok {
		t.Fatal("other window's watch on the same path was removed")
	}

	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	testutil.WaitUntil(t, 5*time.Second, func() bool {
		return c.Bridge.Stats().DroppedNoWindow > 0
	}, "change for the remaining watch was never routed")

	reopened, err := c.Profiles.OpenOrFocus("work")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened == work {
		t.Error("reopening a closed profile returned the dead window")
	}
	if open := c.Profiles.Open(); len(open) != 2 {
		t.Errorf("open profiles = %d, want 2", len(open))
	}
}
