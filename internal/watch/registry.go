// Package watch owns recursive filesystem watches requested by windows.
//
// Many logical subscriptions share one fsnotify watcher. Every watched
// directory carries a reference count so that several ids can watch the same
// tree while the OS sees a single handle per directory. Raw events for an id
// are debounced: each one restarts that id's timer and only the last event of
// a burst is reported, once the timer elapses.
package watch

import (
	"cmp"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/Iron-Ham/panehost/internal/bridge"
	"github.com/Iron-Ham/panehost/internal/config"
	"github.com/Iron-Ham/panehost/internal/errors"
	"github.com/Iron-Ham/panehost/internal/event"
	"github.com/Iron-Ham/panehost/internal/logging"
	"github.com/Iron-Ham/panehost/internal/ownership"
	"github.com/Iron-Ham/panehost/internal/platform"
)

// Event types reported in Change.EventType.
const (
	EventTypeChange = "change"
	EventTypeRename = "rename"
)

// Reasons carried by WatchStoppedEvent.
const (
	reasonUnwatched = "unwatched"
	reasonRemoved   = "removed"
	reasonClosed    = "closed"
)

// Change is pushed on fs:change:<id>.
type Change struct {
	EventType string `json:"eventType"`
	Filename  string `json:"filename"`
}

// Removed is pushed once on fs:removed:<id> when the watched path disappears.
type Removed struct {
	Path string `json:"path"`
}

// Emitter delivers push events to a window. *bridge.Bridge implements it.
type Emitter interface {
	Send(windowID, channel string, payload any) bool
}

// Info is a snapshot of one subscription.
type Info struct {
	ID        string    `json:"id"`
	WindowID  string    `json:"windowId"`
	Path      string    `json:"path"`
	Dirs      int       `json:"dirs"`
	CreatedAt time.Time `json:"createdAt"`
}

// Subscription is one logical watch.
type Subscription struct {
	ID        string
	Path      string
	WindowID  string
	CreatedAt time.Time
	isDir     bool

	// Guarded by Registry.mu.
	dirs       map[string]struct{} // OS-watched paths this subscription holds a reference on
	timer      *time.Timer
	generation uint64
	pending    Change
	closed     bool

	walked chan struct{} // closed when the initial directory walk finishes
}

func (s *Subscription) info() Info {
	return Info{
		ID:        s.ID,
		WindowID:  s.WindowID,
		Path:      s.Path,
		Dirs:      len(s.dirs),
		CreatedAt: s.CreatedAt,
	}
}

// covers reports whether name is the subscription root or lies beneath it.
func (s *Subscription) covers(name string) bool {
	if name == s.Path {
		return true
	}
	return s.isDir && strings.HasPrefix(name, s.Path+string(filepath.Separator))
}

func (s *Subscription) relative(name string) string {
	if !s.isDir {
		return filepath.Base(name)
	}
	rel, err := filepath.Rel(s.Path, name)
	if err != nil {
		return name
	}
	return rel
}

// Registry owns all watch subscriptions. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	subs    map[string]*Subscription
	refs    map[string]int // OS-watched path -> number of subscriptions holding it
	closed  bool
	watcher *fsnotify.Watcher

	debounce time.Duration
	ignore   []glob.Glob

	index  *ownership.Index
	emit   Emitter
	bus    *event.Bus
	logger *logging.Logger

	done     chan struct{}
	loopDone chan struct{}
}

// NewRegistry creates a Registry and starts its event loop. Close stops it.
func NewRegistry(cfg config.WatchConfig, index *ownership.Index, emit Emitter, bus *event.Bus, logger *logging.Logger) (*Registry, error) {
	if index == nil {
		panic("watch: ownership index must not be nil")
	}
	if emit == nil {
		panic("watch: Emitter must not be nil")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	ignore := make([]glob.Glob, 0, len(cfg.Ignore))
	for _, pattern := range cfg.Ignore {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.NewValidationError("invalid ignore pattern").
				WithField("watch.ignore").WithValue(pattern).WithCause(err)
		}
		ignore = append(ignore, g)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create filesystem watcher")
	}

	r := &Registry{
		subs:     make(map[string]*Subscription),
		refs:     make(map[string]int),
		watcher:  watcher,
		debounce: cfg.Debounce(),
		ignore:   ignore,
		index:    index,
		emit:     emit,
		bus:      bus,
		logger:   logger.WithComponent("watch"),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

// Watch registers a recursive watch on path for windowID. The root is
// watched before Watch returns; subdirectories are added in the background.
func (r *Registry) Watch(id, windowID, path string) error {
	if id == "" {
		return errors.NewValidationError("watch id cannot be empty").WithField("id")
	}
	if windowID == "" {
		return errors.NewValidationError("window id cannot be empty").WithField("windowId")
	}

	root, err := platform.NormalizePath(path)
	if err != nil {
		return errors.NewWatchError("invalid path", errors.ErrPathNotFound).
			WithWatchID(id).WithPath(path)
	}
	info, err := os.Stat(root)
	if err != nil {
		return errors.NewWatchError("cannot watch path", classifyStatErr(err)).
			WithWatchID(id).WithPath(root)
	}

	sub := &Subscription{
		ID:        id,
		Path:      root,
		WindowID:  windowID,
		CreatedAt: time.Now(),
		isDir:     info.IsDir(),
		dirs:      make(map[string]struct{}),
		walked:    make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.NewWatchError("cannot watch path", errors.ErrWatcherClosed).WithWatchID(id).WithPath(root)
	}
	if _, exists := r.subs[id]; exists {
		r.mu.Unlock()
		return errors.NewWatchError("cannot watch path", errors.ErrWatchExists).WithWatchID(id).WithPath(root)
	}
	if err := r.index.Register(ownership.KindWatch, id, windowID); err != nil {
		r.mu.Unlock()
		return errors.NewWatchError("cannot watch path", err).WithWatchID(id).WithPath(root)
	}
	if err := r.acquireLocked(sub, root); err != nil {
		r.mu.Unlock()
		r.index.Deregister(ownership.KindWatch, id)
		return errors.NewWatchError("cannot watch path", classifyStatErr(err)).WithWatchID(id).WithPath(root)
	}
	r.subs[id] = sub
	r.mu.Unlock()

	if sub.isDir {
		go func() {
			defer close(sub.walked)
			r.addTree(sub, root)
		}()
	} else {
		close(sub.walked)
	}

	r.logger.WithWindow(windowID).Info("watch started", "watch_id", id, "path", root)
	r.publish(event.NewWatchStartedEvent(id, windowID, root))
	return nil
}

func classifyStatErr(err error) error {
	switch {
	case os.IsNotExist(err):
		return errors.Join(errors.ErrPathNotFound, err)
	case os.IsPermission(err):
		return errors.Join(errors.ErrPermissionDenied, err)
	default:
		return err
	}
}

// acquireLocked takes a reference on the OS watch for path, adding it to the
// watcher on the first reference.
func (r *Registry) acquireLocked(sub *Subscription, path string) error {
	if _, held := sub.dirs[path]; held {
		return nil
	}
	if r.refs[path] == 0 {
		if err := r.watcher.Add(path); err != nil {
			return err
		}
	}
	r.refs[path]++
	sub.dirs[path] = struct{}{}
	return nil
}

// releaseLocked drops every reference sub holds, removing OS watches that are
// no longer referenced.
func (r *Registry) releaseLocked(sub *Subscription) {
	for path := range sub.dirs {
		r.refs[path]--
		if r.refs[path] <= 0 {
			delete(r.refs, path)
			_ = r.watcher.Remove(path)
		}
	}
	clear(sub.dirs)
}

// forgetLocked drops references on path and everything beneath it after the
// directory has disappeared. The kernel has already dropped those watches.
func (r *Registry) forgetLocked(path string) {
	prefix := path + string(filepath.Separator)
	for dir := range r.refs {
		if dir != path && !strings.HasPrefix(dir, prefix) {
			continue
		}
		delete(r.refs, dir)
		_ = r.watcher.Remove(dir)
		for _, sub := range r.subs {
			delete(sub.dirs, dir)
		}
	}
}

// addTree walks dir and takes a reference on every subdirectory that is not
// ignored. It runs off the event loop and stops early if sub goes away.
func (r *Registry) addTree(sub *Subscription, dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != sub.Path && r.ignored(path) {
			return filepath.SkipDir
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if sub.closed {
			return filepath.SkipAll
		}
		if err := r.acquireLocked(sub, path); err != nil {
			r.logger.WithWindow(sub.WindowID).Debug("cannot watch directory",
				"watch_id", sub.ID, "path", path, "error", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Debug("directory walk ended early", "watch_id", sub.ID, "error", err)
	}
}

func (r *Registry) ignored(path string) bool {
	slashed := filepath.ToSlash(path)
	for _, g := range r.ignore {
		if g.Match(slashed) {
			return true
		}
	}
	return false
}

// loop is the single consumer of the fsnotify channels.
func (r *Registry) loop() {
	defer close(r.loopDone)
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handle(ev)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

func (r *Registry) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || ev.Name == "" {
		return
	}
	name := filepath.Clean(ev.Name)
	gone := ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename)

	var created bool
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Lstat(name); err == nil && info.IsDir() {
			created = true
		}
	}

	var removed []*Subscription
	defer func() {
		for _, sub := range removed {
			r.logger.WithWindow(sub.WindowID).Info("watched path removed", "watch_id", sub.ID, "path", sub.Path)
			r.publish(event.NewWatchStoppedEvent(sub.ID, sub.WindowID, sub.Path, reasonRemoved))
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if gone {
		if _, watched := r.refs[name]; watched {
			r.forgetLocked(name)
		}
	}

	for _, sub := range r.subs {
		if sub.closed || !sub.covers(name) {
			continue
		}

		if name == sub.Path && gone {
			if _, err := os.Lstat(sub.Path); os.IsNotExist(err) {
				r.removeLocked(sub)
				removed = append(removed, sub)
				continue
			}
			// Replaced in place: watch the new root.
			if sub.isDir {
				go r.addTree(sub, sub.Path)
			} else if err := r.acquireLocked(sub, sub.Path); err != nil {
				r.logger.Debug("cannot rewatch replaced file", "watch_id", sub.ID, "error", err)
			}
		}

		if name != sub.Path && r.ignored(name) {
			continue
		}

		if created && sub.isDir {
			go r.addTree(sub, name)
		}

		r.scheduleLocked(sub, Change{
			EventType: eventType(ev.Op),
			Filename:  sub.relative(name),
		})
	}
}

func eventType(op fsnotify.Op) string {
	if op.Has(fsnotify.Create) || op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
		return EventTypeRename
	}
	return EventTypeChange
}

// scheduleLocked records change as the latest raw event for sub and restarts
// its debounce timer.
func (r *Registry) scheduleLocked(sub *Subscription, change Change) {
	sub.pending = change
	sub.generation++
	gen := sub.generation
	if sub.timer != nil {
		sub.timer.Stop()
	}
	sub.timer = time.AfterFunc(r.debounce, func() { r.fire(sub, gen) })
}

// fire emits the pending change if no newer event arrived and sub is still
// registered. The send happens under the registry lock so nothing is emitted
// for an id after Unwatch returns.
func (r *Registry) fire(sub *Subscription, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.closed || sub.generation != gen {
		return
	}
	sub.timer = nil
	r.emit.Send(sub.WindowID, bridge.Channel(bridge.KindFS, bridge.EventChange, sub.ID), sub.pending)
}

// removeLocked handles disappearance of the watched root: one removed
// notification, then an implicit unwatch.
func (r *Registry) removeLocked(sub *Subscription) {
	r.stopLocked(sub)
	r.emit.Send(sub.WindowID, bridge.Channel(bridge.KindFS, bridge.EventRemoved, sub.ID), Removed{Path: sub.Path})
	r.index.Deregister(ownership.KindWatch, sub.ID)
}

// stopLocked cancels the debounce timer, releases OS handles and removes sub
// from the registry.
func (r *Registry) stopLocked(sub *Subscription) {
	sub.closed = true
	sub.generation++
	if sub.timer != nil {
		sub.timer.Stop()
		sub.timer = nil
	}
	r.releaseLocked(sub)
	delete(r.subs, sub.ID)
}

// Unwatch cancels the subscription. Unknown ids are ignored.
func (r *Registry) Unwatch(id string) error {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		r.stopLocked(sub)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	r.index.Deregister(ownership.KindWatch, id)
	r.logger.WithWindow(sub.WindowID).Info("watch stopped", "watch_id", id)
	r.publish(event.NewWatchStoppedEvent(id, sub.WindowID, sub.Path, reasonUnwatched))
	return nil
}

// ReleaseWindow unwatches every subscription owned by windowID.
func (r *Registry) ReleaseWindow(windowID string) ownership.Result {
	return r.index.Release(windowID, ownership.Destroyer{
		Kind:    ownership.KindWatch,
		Destroy: r.Unwatch,
	})
}

// Close stops every subscription and the underlying watcher. It is safe to
// call more than once.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	stopped := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		r.stopLocked(sub)
		stopped = append(stopped, sub)
	}
	r.mu.Unlock()

	for _, sub := range stopped {
		r.index.Deregister(ownership.KindWatch, sub.ID)
		r.publish(event.NewWatchStoppedEvent(sub.ID, sub.WindowID, sub.Path, reasonClosed))
	}

	close(r.done)
	err := r.watcher.Close()
	<-r.loopDone
	r.logger.Info("watcher closed", "subscriptions", len(stopped))
	return err
}

// Get returns a snapshot of one subscription.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return Info{}, false
	}
	return sub.info(), true
}

// List returns snapshots of all subscriptions ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub.info())
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b Info) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Count returns the number of subscriptions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// handles returns the number of distinct OS-watched paths.
func (r *Registry) handles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refs)
}

func (r *Registry) publish(e event.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
