// Package watcher implements the client's recursive filesystem watcher
// (C8): fsnotify events, debounced and filtered through an ignore set,
// delivered as SyncEvents. Event-loop shape (watcher.Add on walk, a
// select over Events/Errors channels) is grounded on the pack's one
// fsnotify consumer, internal/policy/engine.go's reload watcher.
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/syncagent/syncagent/internal/observability"
)

// ChangeKind is the filesystem-level action that produced a SyncEvent.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "CREATED"
	ChangeModified ChangeKind = "MODIFIED"
	ChangeDeleted  ChangeKind = "DELETED"
)

// SyncEvent is one accepted, debounced filesystem change.
type SyncEvent struct {
	Kind ChangeKind
	Path string // absolute path
}

const (
	debounceWindow = 250 * time.Millisecond
	syncDelayTail  = 3 * time.Second
)

// Watcher recursively watches a sync root and emits debounced SyncEvents.
type Watcher struct {
	root      string
	ignore    *IgnoreSet
	logger    *observability.Logger
	fsw       *fsnotify.Watcher
	events    chan SyncEvent
	withDelay bool // apply the trailing "sync delay" (§4.8), only without an external coordinator

	mu      sync.Mutex
	pending map[string]*pendingEvent
}

type pendingEvent struct {
	kind  ChangeKind
	timer *time.Timer
}

// New creates a Watcher rooted at root. withSyncDelay enables the trailing
// ~3s settle window used only when running without an external coordinator
// driving uploads directly off debounced events.
func New(root string, ignore *IgnoreSet, logger *observability.Logger, withSyncDelay bool) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:      root,
		ignore:    ignore,
		logger:    logger,
		fsw:       fsw,
		events:    make(chan SyncEvent, 256),
		withDelay: withSyncDelay,
		pending:   make(map[string]*pendingEvent),
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Events returns the channel of debounced, filtered SyncEvents.
func (w *Watcher) Events() <-chan SyncEvent { return w.events }

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			rel, relErr := filepath.Rel(w.root, path)
			if relErr == nil && rel != "." && w.ignore.Match(rel, true) {
				return filepath.SkipDir
			}
			return w.fsw.Add(path)
		}
		return nil
	})
}

// Run consumes fsnotify's channels until ctx-like stop() signals shutdown,
// debouncing and forwarding accepted events.
func (w *Watcher) Run(stop <-chan struct{}) {
	defer close(w.events)
	defer w.fsw.Close()

	for {
		select {
		case <-stop:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Error(err, "watcher error")
			}
		}
	}
}

func (w *Watcher) handleRaw(event fsnotify.Event) {
	info, statErr := os.Lstat(event.Name)
	if statErr == nil && info.Mode()&os.ModeSymlink != 0 {
		return // symlinks are skipped (§4.8)
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	isDir := statErr == nil && info.IsDir()
	if w.ignore.Match(rel, isDir) {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		if isDir {
			_ = w.addRecursive(event.Name)
			return // directory events themselves are filtered out (§4.8)
		}
		w.debounce(event.Name, ChangeCreated)
	case event.Op&fsnotify.Write != 0:
		if isDir {
			return
		}
		w.debounce(event.Name, ChangeModified)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// A rename shows up as Remove(src)+Create(dest) on most platforms via
		// fsnotify; MOVED is expanded into DELETED(src)+CREATED(dest) (§4.8) by
		// simply treating each half independently, so no special-casing here.
		if isDir {
			return
		}
		w.debounce(event.Name, ChangeDeleted)
	}
}

func (w *Watcher) debounce(path string, kind ChangeKind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok {
		p.kind = kind
		p.timer.Reset(debounceWindow)
		return
	}

	p := &pendingEvent{kind: kind}
	p.timer = time.AfterFunc(debounceWindow, func() { w.fire(path) })
	w.pending[path] = p
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	emit := func() {
		if w.logger != nil {
			w.logger.EventEmitted(string(p.kind), path)
		}
		select {
		case w.events <- SyncEvent{Kind: p.kind, Path: path}:
		default:
		}
	}

	if w.withDelay {
		time.AfterFunc(syncDelayTail, emit)
		return
	}
	emit()
}
