package watcher

import (
	"sync"
	"time"
)

type pendingChange struct {
	path  string
	kind  ChangeKind
	timer *time.Timer
}

// Debouncer coalesces rapid changes to the same path into one callback.
type Debouncer struct {
	window   time.Duration
	callback func(path string, kind ChangeKind)

	mu      sync.Mutex
	pending map[string]*pendingChange
	stopped bool
}

// NewDebouncer creates a debouncer firing callback once a path has been
// quiet for window.
func NewDebouncer(window time.Duration, callback func(path string, kind ChangeKind)) *Debouncer {
	return &Debouncer{
		window:   window,
		callback: callback,
		pending:  make(map[string]*pendingChange),
	}
}

// Add queues a change for path, restarting its quiet window.
func (d *Debouncer) Add(path string, kind ChangeKind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[path]; ok {
		existing.timer.Stop()
		existing.kind = mergeKinds(existing.kind, kind)
		existing.timer = time.AfterFunc(d.window, func() { d.fire(path) })
		return
	}

	d.pending[path] = &pendingChange{
		path:  path,
		kind:  kind,
		timer: time.AfterFunc(d.window, func() { d.fire(path) }),
	}
}

// Pending returns the number of paths waiting for their window to close.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer) fire(path string) {
	d.mu.Lock()
	change, ok := d.pending[path]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	stopped := d.stopped
	d.mu.Unlock()

	if !stopped && d.callback != nil {
		d.callback(change.path, change.kind)
	}
}

// Stop cancels every pending callback.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for _, change := range d.pending {
		change.timer.Stop()
	}
	d.pending = make(map[string]*pendingChange)
}

// mergeKinds keeps the more significant of two changes: delete wins, and a
// create followed by writes is still a create.
func mergeKinds(existing, next ChangeKind) ChangeKind {
	if next == ChangeDeleted {
		return ChangeDeleted
	}
	if existing == ChangeCreated {
		return ChangeCreated
	}
	return next
}
