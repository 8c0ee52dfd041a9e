// Package watcher watches a local file or directory tree and reports settled
// changes, used to push local edits to the file service.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is the quiet window before a change is reported.
const DefaultDebounce = 200 * time.Millisecond

// renameWindow bounds how long a rename waits for its matching create.
const renameWindow = time.Second

// ChangeKind classifies a settled change.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeRenamed  ChangeKind = "renamed"
)

// Change is one settled change. Path and OldPath are slash-separated and
// relative to the watched root; for a single-file watch Path is the file name.
type Change struct {
	Path    string
	OldPath string
	AbsPath string
	Kind    ChangeKind
	Size    int64
}

// Handler receives settled changes.
type Handler func(Change)

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	Ignore   []string
}

type pendingRename struct {
	oldPath   string
	timestamp time.Time
}

// Watcher reports changes below root. When root is a file, its directory is
// watched and only that file's changes are reported, so editors that replace
// the file on save are handled.
type Watcher struct {
	root    string
	file    string
	handler Handler
	opts    Options

	mu        sync.RWMutex
	fsw       *fsnotify.Watcher
	running   bool
	cancel    context.CancelFunc
	debouncer *Debouncer

	renamesMu sync.Mutex
	renames   map[string]pendingRename
}

// New creates a watcher for path.
func New(path string, handler Handler, opts Options) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watcher handler is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	w := &Watcher{
		root:    abs,
		handler: handler,
		opts:    opts,
		renames: make(map[string]pendingRename),
	}
	if !info.IsDir() {
		w.root = filepath.Dir(abs)
		w.file = filepath.Base(abs)
	}
	return w, nil
}

// Start begins watching. It is a no-op if already running.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.debouncer = NewDebouncer(w.opts.Debounce, w.settled)
	w.running = true
	w.mu.Unlock()

	if w.file != "" {
		err = fsw.Add(w.root)
	} else {
		err = w.addRecursive(w.root)
	}
	if err != nil {
		_ = w.Stop()
		return err
	}

	go w.loop(watchCtx, fsw)
	go w.expireRenames(watchCtx)

	log.Info().
		Str("path", filepath.Join(w.root, w.file)).
		Dur("debounce", w.opts.Debounce).
		Msg("file watcher started")
	return nil
}

// Stop ends watching and drops pending changes.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false

	if w.cancel != nil {
		w.cancel()
	}
	if w.debouncer != nil {
		w.debouncer.Stop()
	}
	if w.fsw != nil {
		err := w.fsw.Close()
		w.fsw = nil
		log.Info().Msg("file watcher stopped")
		return err
	}
	return nil
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(w.root, path); err == nil && rel != "." && w.ignored(rel) {
			return filepath.SkipDir
		}
		w.mu.RLock()
		fsw := w.fsw
		w.mu.RUnlock()
		if fsw == nil {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to add watch")
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		rel = event.Name
	}
	rel = filepath.ToSlash(rel)

	if w.file != "" && rel != w.file {
		return
	}
	if w.ignored(rel) {
		return
	}

	var kind ChangeKind
	switch {
	case event.Has(fsnotify.Create):
		kind = ChangeCreated
		if w.file == "" {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				_ = w.addRecursive(event.Name)
			}
		}
	case event.Has(fsnotify.Write):
		kind = ChangeModified
	case event.Has(fsnotify.Remove):
		kind = ChangeDeleted
	case event.Has(fsnotify.Rename):
		if w.file != "" {
			// Save-by-replace; the following create reports the new content.
			return
		}
		dir := filepath.Dir(rel)
		w.renamesMu.Lock()
		w.renames[dir] = pendingRename{oldPath: rel, timestamp: time.Now()}
		w.renamesMu.Unlock()
		return
	default:
		return
	}

	w.mu.RLock()
	d := w.debouncer
	w.mu.RUnlock()
	if d != nil {
		d.Add(rel, kind)
	}
}

// expireRenames reports renames with no matching create as deletions.
func (w *Watcher) expireRenames(ctx context.Context) {
	ticker := time.NewTicker(renameWindow / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var expired []string
			w.renamesMu.Lock()
			for dir, pending := range w.renames {
				if time.Since(pending.timestamp) > renameWindow {
					delete(w.renames, dir)
					expired = append(expired, pending.oldPath)
				}
			}
			w.renamesMu.Unlock()

			for _, path := range expired {
				w.emit(Change{Path: path, AbsPath: w.abs(path), Kind: ChangeDeleted})
			}
		}
	}
}

// settled runs after a path's debounce window closes.
func (w *Watcher) settled(path string, kind ChangeKind) {
	change := Change{Path: path, AbsPath: w.abs(path), Kind: kind}
	if kind != ChangeDeleted {
		if info, err := os.Stat(change.AbsPath); err == nil {
			if info.IsDir() {
				return
			}
			change.Size = info.Size()
		}
	}

	if kind == ChangeCreated {
		dir := filepath.Dir(path)
		w.renamesMu.Lock()
		pending, ok := w.renames[dir]
		if ok {
			delete(w.renames, dir)
		}
		w.renamesMu.Unlock()
		if ok && time.Since(pending.timestamp) < renameWindow {
			change.Kind = ChangeRenamed
			change.OldPath = pending.oldPath
		}
	}

	w.emit(change)
}

func (w *Watcher) emit(change Change) {
	if !w.IsRunning() {
		return
	}
	log.Debug().
		Str("path", change.Path).
		Str("change", string(change.Kind)).
		Int64("size", change.Size).
		Msg("local file changed")
	w.handler(change)
}

func (w *Watcher) abs(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

func (w *Watcher) ignored(path string) bool {
	for _, pattern := range w.opts.Ignore {
		for _, part := range splitPath(path) {
			if matched, _ := filepath.Match(pattern, part); matched {
				return true
			}
		}
	}
	return false
}

func splitPath(path string) []string {
	var parts []string
	for path != "" && path != "/" && path != "." {
		dir, file := filepath.Split(path)
		if file != "" {
			parts = append([]string{file}, parts...)
		}
		next := filepath.Clean(dir)
		if next == path {
			break
		}
		path = next
	}
	return parts
}
