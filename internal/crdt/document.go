// Package crdt defines the document handle a collaborative session owns.
//
// The replication algorithm lives in the external sync backend; this package
// only carries opaque binary updates between the transport and local
// consumers. MemoryDocument is an update-log implementation suitable for the
// CLI and tests.
package crdt

import (
	"sync"

	"github.com/brianly1003/docsync/internal/domain"
)

// Document is an exclusively owned handle on one synchronized document.
type Document interface {
	// ID returns the sync-backend document identifier.
	ID() string

	// Apply merges a remote update into the document. Local observers are
	// notified with the update.
	Apply(update []byte) error

	// Push records a locally produced update. Observers registered with
	// OnLocalUpdate are notified so the transport can ship it.
	Push(update []byte) error

	// Updates returns a copy of the update log.
	Updates() [][]byte

	// OnUpdate registers fn for every update applied from the network.
	OnUpdate(fn func(update []byte)) (cancel func())

	// OnLocalUpdate registers fn for every update pushed locally.
	OnLocalUpdate(fn func(update []byte)) (cancel func())

	// Destroy releases the document. It is safe to call more than once.
	Destroy() error

	// Destroyed reports whether Destroy has been called.
	Destroyed() bool
}

// Factory creates a new document handle for a document ID.
type Factory func(documentID string) Document

// MemoryDocument keeps the update log in memory.
type MemoryDocument struct {
	id string

	mu        sync.Mutex
	updates   [][]byte
	remote    map[int]func([]byte)
	local     map[int]func([]byte)
	nextObs   int
	destroyed bool
}

// NewMemoryDocument creates an empty in-memory document.
func NewMemoryDocument(documentID string) *MemoryDocument {
	return &MemoryDocument{
		id:     documentID,
		remote: make(map[int]func([]byte)),
		local:  make(map[int]func([]byte)),
	}
}

// NewMemoryFactory returns a Factory producing MemoryDocuments.
func NewMemoryFactory() Factory {
	return func(documentID string) Document {
		return NewMemoryDocument(documentID)
	}
}

// ID returns the document identifier.
func (d *MemoryDocument) ID() string {
	return d.id
}

// Apply appends a remote update and notifies OnUpdate observers.
func (d *MemoryDocument) Apply(update []byte) error {
	observers, err := d.append(update, d.remote)
	if err != nil {
		return err
	}
	for _, fn := range observers {
		fn(update)
	}
	return nil
}

// Push appends a local update and notifies OnLocalUpdate observers.
func (d *MemoryDocument) Push(update []byte) error {
	observers, err := d.append(update, d.local)
	if err != nil {
		return err
	}
	for _, fn := range observers {
		fn(update)
	}
	return nil
}

func (d *MemoryDocument) append(update []byte, set map[int]func([]byte)) ([]func([]byte), error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return nil, domain.ErrDocumentDestroyed
	}

	buf := make([]byte, len(update))
	copy(buf, update)
	d.updates = append(d.updates, buf)

	observers := make([]func([]byte), 0, len(set))
	for i := 0; i < d.nextObs; i++ {
		if fn, ok := set[i]; ok {
			observers = append(observers, fn)
		}
	}
	return observers, nil
}

// Updates returns a copy of the update log.
func (d *MemoryDocument) Updates() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([][]byte, len(d.updates))
	for i, u := range d.updates {
		out[i] = append([]byte(nil), u...)
	}
	return out
}

// OnUpdate registers an observer for remote updates.
func (d *MemoryDocument) OnUpdate(fn func(update []byte)) func() {
	return d.observe(d.remote, fn)
}

// OnLocalUpdate registers an observer for local updates.
func (d *MemoryDocument) OnLocalUpdate(fn func(update []byte)) func() {
	return d.observe(d.local, fn)
}

func (d *MemoryDocument) observe(set map[int]func([]byte), fn func([]byte)) func() {
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	set[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(set, id)
		d.mu.Unlock()
	}
}

// Destroy drops the update log and all observers.
func (d *MemoryDocument) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return nil
	}
	d.destroyed = true
	d.updates = nil
	d.remote = make(map[int]func([]byte))
	d.local = make(map[int]func([]byte))
	return nil
}

// Destroyed reports whether Destroy has been called.
func (d *MemoryDocument) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

var _ Document = (*MemoryDocument)(nil)
