// Package ownership maps every live PTY session and filesystem watch to the
// single window that created it, and drives cascade teardown when that window
// closes.
//
// The index is a weak back-reference: it never holds resource handles. The
// terminal and watch registries own their resources; the index only knows
// which ids belong to which window.
package ownership

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Iron-Ham/panehost/internal/errors"
	"github.com/Iron-Ham/panehost/internal/logging"
)

// Kind identifies the kind of resource recorded in the index.
type Kind string

const (
	KindPTY   Kind = "pty"
	KindWatch Kind = "watch"
)

// Kinds lists every resource kind in cascade order.
func Kinds() []Kind { return []Kind{KindPTY, KindWatch} }

// Destroyer tears down a single resource of one kind. It is called once per
// owned id during a cascade. Returning an error or panicking only affects
// that id.
type Destroyer struct {
	Kind    Kind
	Destroy func(id string) error
}

// record holds the resource ids owned by one window.
type record map[Kind]map[string]struct{}

// Index is the bidirectional window <-> resource mapping. It is safe for
// concurrent use.
type Index struct {
	mu      sync.Mutex
	windows map[string]record          // windowID -> kind -> ids
	owners  map[Kind]map[string]string // kind -> resourceID -> windowID
	retired map[string]struct{}        // windows that may never own resources again
	logger  *logging.Logger
}

// New creates an empty Index.
func New(logger *logging.Logger) *Index {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Index{
		windows: make(map[string]record),
		owners:  make(map[Kind]map[string]string),
		retired: make(map[string]struct{}),
		logger:  logger.WithComponent("ownership"),
	}
}

// Register records that windowID owns resourceID. A resource's owner is fixed
// at creation: registering the same id again under the same window is a no-op,
// under a different window it fails with ErrOwnerMismatch. Registering under
// a retired window fails with ErrWindowClosing.
func (x *Index) Register(kind Kind, resourceID, windowID string) error {
	if resourceID == "" || windowID == "" {
		return errors.NewValidationError("resource id and window id are required").
			WithField("resource_id")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.retired[windowID]; ok {
		return fmt.Errorf("%s %q for window %s: %w",
			kind, resourceID, windowID, errors.ErrWindowClosing)
	}

	if owner, ok := x.owners[kind][resourceID]; ok {
		if owner == windowID {
			return nil
		}
		return fmt.Errorf("%s %q registered to window %s, not %s: %w",
			kind, resourceID, owner, windowID, errors.ErrOwnerMismatch)
	}

	if x.owners[kind] == nil {
		x.owners[kind] = make(map[string]string)
	}
	x.owners[kind][resourceID] = windowID

	rec := x.windows[windowID]
	if rec == nil {
		rec = make(record)
		x.windows[windowID] = rec
	}
	if rec[kind] == nil {
		rec[kind] = make(map[string]struct{})
	}
	rec[kind][resourceID] = struct{}{}
	return nil
}

// Retire marks windowID as closing. Every later Register for it fails, so a
// create racing the window's teardown cannot leave a resource behind that no
// cascade will reach. Window ids are never reused, so retirement is permanent.
func (x *Index) Retire(windowID string) {
	if windowID == "" {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.retired[windowID] = struct{}{}
}

// Retired reports whether windowID has been retired.
func (x *Index) Retired(windowID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.retired[windowID]
	return ok
}

// Deregister removes resourceID from its owner's record. It reports whether
// the id was present. Every destroy path calls this eagerly so an id is never
// registry-absent but index-present.
func (x *Index) Deregister(kind Kind, resourceID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	owner, ok := x.owners[kind][resourceID]
	if !ok {
		return false
	}
	delete(x.owners[kind], resourceID)
	if rec := x.windows[owner]; rec != nil {
		delete(rec[kind], resourceID)
	}
	return true
}

// Owner returns the window that owns resourceID.
func (x *Index) Owner(kind Kind, resourceID string) (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	owner, ok := x.owners[kind][resourceID]
	return owner, ok
}

// Resources returns a sorted snapshot of the ids windowID owns, by kind.
func (x *Index) Resources(windowID string) map[Kind][]string {
	x.mu.Lock()
	defer x.mu.Unlock()

	out := make(map[Kind][]string)
	for kind, ids := range x.windows[windowID] {
		if len(ids) == 0 {
			continue
		}
		out[kind] = sortedKeys(ids)
	}
	return out
}

// Count returns the number of ids of kind owned by windowID.
func (x *Index) Count(windowID string, kind Kind) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.windows[windowID][kind])
}

// Windows returns the ids of windows that currently own at least one resource.
func (x *Index) Windows() []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	var out []string
	for windowID, rec := range x.windows {
		for _, ids := range rec {
			if len(ids) > 0 {
				out = append(out, windowID)
				break
			}
		}
	}
	slices.Sort(out)
	return out
}

// Take atomically reads and clears the ids of one kind owned by windowID.
func (x *Index) Take(windowID string, kind Kind) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.takeLocked(windowID, kind)
}

// TakeAll retires windowID, then atomically reads and clears every id it
// owned and forgets the window's record.
func (x *Index) TakeAll(windowID string) map[Kind][]string {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.retired[windowID] = struct{}{}

	out := make(map[Kind][]string)
	for _, kind := range Kinds() {
		if ids := x.takeLocked(windowID, kind); len(ids) > 0 {
			out[kind] = ids
		}
	}
	delete(x.windows, windowID)
	return out
}

func (x *Index) takeLocked(windowID string, kind Kind) []string {
	rec := x.windows[windowID]
	if rec == nil || len(rec[kind]) == 0 {
		return nil
	}
	ids := sortedKeys(rec[kind])
	for _, id := range ids {
		delete(x.owners[kind], id)
	}
	delete(rec, kind)
	if len(rec) == 0 {
		delete(x.windows, windowID)
	}
	return ids
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
