// Package profile maps user profiles to their top-level window.
//
// Each profile has at most one live window. Opening a profile that already
// has one focuses it instead of creating another. Entries outlive their
// windows so a profile can be reopened and rebound later.
package profile

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/panehost/internal/errors"
	"github.com/Iron-Ham/panehost/internal/event"
	"github.com/Iron-Ham/panehost/internal/logging"
)

// Windows is the subset of the window host the directory drives.
type Windows interface {
	Open(profileID string) (string, error)
	Focus(windowID string) error
	IsLive(windowID string) bool
}

// Entry is one profile's binding. WindowID is empty when the profile has no
// live window.
type Entry struct {
	ProfileID     string    `json:"profileId"`
	WindowID      string    `json:"windowId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LastFocusedAt time.Time `json:"lastFocusedAt"`
}

// Directory is the profile to window table. It is safe for concurrent use.
type Directory struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	byWindow map[string]string // window id -> profile id, for bound windows

	windows Windows
	logger  *logging.Logger
	now     func() time.Time
}

// NewDirectory creates an empty directory that opens windows through windows.
func NewDirectory(windows Windows, logger *logging.Logger) *Directory {
	if windows == nil {
		panic("profile: Windows must not be nil")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Directory{
		entries:  make(map[string]*Entry),
		byWindow: make(map[string]string),
		windows:  windows,
		logger:   logger.WithComponent("profile"),
		now:      time.Now,
	}
}

// OpenOrFocus returns the live window for profileID, focusing it, or opens
// a new window and binds it. The directory lock is held across the open so
// two concurrent calls for one profile never create two windows.
func (d *Directory) OpenOrFocus(profileID string) (string, error) {
	if strings.TrimSpace(profileID) == "" {
		return "", errors.NewValidationError("profile id cannot be empty").WithField("profileId")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	log := d.logger.WithProfile(profileID)
	entry, ok := d.entries[profileID]
	if ok && entry.WindowID != "" && d.windows.IsLive(entry.WindowID) {
		if err := d.windows.Focus(entry.WindowID); err != nil {
			log.Debug("focus failed", "window_id", entry.WindowID, "error", err)
		}
		entry.LastFocusedAt = d.now()
		log.Debug("profile window focused", "window_id", entry.WindowID)
		return entry.WindowID, nil
	}

	windowID, err := d.windows.Open(profileID)
	if err != nil {
		log.Error("failed to open profile window", "error", err)
		return "", err
	}
	if owner, bound := d.byWindow[windowID]; bound && owner != profileID {
		return "", errors.Wrapf(errors.ErrOwnerMismatch, "window %s already belongs to profile %s", windowID, owner)
	}

	now := d.now()
	if !ok {
		entry = &Entry{ProfileID: profileID, CreatedAt: now}
		d.entries[profileID] = entry
	} else if entry.WindowID != "" {
		// The previous window is closing; its closed notification must not
		// clear the new binding.
		delete(d.byWindow, entry.WindowID)
	}
	entry.WindowID = windowID
	entry.LastFocusedAt = now
	d.byWindow[windowID] = profileID

	log.Info("profile window opened", "window_id", windowID)
	return windowID, nil
}

// OnWindowClosed clears the binding of the profile that owned windowID.
// The entry is kept.
func (d *Directory) OnWindowClosed(windowID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	profileID, ok := d.byWindow[windowID]
	if !ok {
		return
	}
	delete(d.byWindow, windowID)
	if entry := d.entries[profileID]; entry != nil && entry.WindowID == windowID {
		entry.WindowID = ""
	}
	d.logger.WithProfile(profileID).Debug("profile window unbound", "window_id", windowID)
}

// HandleWindowClosed is an event.Handler for window.closed.
func (d *Directory) HandleWindowClosed(e event.Event) {
	if closed, ok := e.(event.WindowClosedEvent); ok {
		d.OnWindowClosed(closed.WindowID)
	}
}

// Open lists profiles with a bound window, most recently focused first.
func (d *Directory) Open() []Entry {
	d.mu.Lock()
	out := make([]Entry, 0, len(d.byWindow))
	for _, entry := range d.entries {
		if entry.WindowID != "" {
			out = append(out, *entry)
		}
	}
	d.mu.Unlock()

	slices.SortFunc(out, func(a, b Entry) int {
		if c := b.LastFocusedAt.Compare(a.LastFocusedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ProfileID, b.ProfileID)
	})
	return out
}

// Entries lists every known profile ordered by id.
func (d *Directory) Entries() []Entry {
	d.mu.Lock()
	out := make([]Entry, 0, len(d.entries))
	for _, entry := range d.entries {
		out = append(out, *entry)
	}
	d.mu.Unlock()

	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.ProfileID, b.ProfileID) })
	return out
}

// Get returns the entry for profileID.
func (d *Directory) Get(profileID string) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[profileID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// ProfileFor returns the profile bound to windowID.
func (d *Directory) ProfileFor(windowID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	profileID, ok := d.byWindow[windowID]
	return profileID, ok
}
