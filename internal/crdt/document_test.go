package crdt

import (
	"errors"
	"testing"

	"github.com/brianly1003/docsync/internal/domain"
)

func TestMemoryDocument_ApplyNotifiesRemoteObservers(t *testing.T) {
	doc := NewMemoryDocument("yjs/a.txt")

	var remote, local int
	cancelRemote := doc.OnUpdate(func([]byte) { remote++ })
	defer cancelRemote()
	cancelLocal := doc.OnLocalUpdate(func([]byte) { local++ })
	defer cancelLocal()

	if err := doc.Apply([]byte{1, 2}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := doc.Push([]byte{3}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if remote != 1 {
		t.Errorf("remote observer calls = %d, want 1", remote)
	}
	if local != 1 {
		t.Errorf("local observer calls = %d, want 1", local)
	}
	if got := len(doc.Updates()); got != 2 {
		t.Errorf("len(Updates()) = %d, want 2", got)
	}
}

func TestMemoryDocument_CancelObserver(t *testing.T) {
	doc := NewMemoryDocument("yjs/a.txt")

	calls := 0
	cancel := doc.OnUpdate(func([]byte) { calls++ })
	_ = doc.Apply([]byte{1})
	cancel()
	_ = doc.Apply([]byte{2})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestMemoryDocument_UpdatesAreCopies(t *testing.T) {
	doc := NewMemoryDocument("yjs/a.txt")
	in := []byte{1, 2, 3}
	_ = doc.Apply(in)
	in[0] = 9

	got := doc.Updates()
	if got[0][0] != 1 {
		t.Errorf("stored update mutated through caller slice: %v", got[0])
	}
	got[0][1] = 9
	if doc.Updates()[0][1] != 2 {
		t.Error("Updates() exposed internal storage")
	}
}

func TestMemoryDocument_Destroy(t *testing.T) {
	doc := NewMemoryDocument("yjs/a.txt")
	_ = doc.Apply([]byte{1})

	if err := doc.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if err := doc.Destroy(); err != nil {
		t.Fatalf("second Destroy() error = %v", err)
	}
	if !doc.Destroyed() {
		t.Error("Destroyed() = false after Destroy()")
	}
	if err := doc.Apply([]byte{2}); !errors.Is(err, domain.ErrDocumentDestroyed) {
		t.Errorf("Apply() after Destroy error = %v, want ErrDocumentDestroyed", err)
	}
	if len(doc.Updates()) != 0 {
		t.Error("Updates() not empty after Destroy()")
	}
}

func TestMemoryFactory(t *testing.T) {
	f := NewMemoryFactory()
	doc := f("yjs/x")
	if doc.ID() != "yjs/x" {
		t.Errorf("ID() = %q, want yjs/x", doc.ID())
	}
}
