package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brianly1003/docsync/internal/testutil"
)

type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (l *changeLog) handle(c Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, c)
}

func (l *changeLog) find(path string) (Change, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.changes {
		if c.Path == path {
			return c, true
		}
	}
	return Change{}, false
}

func (l *changeLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.changes)
}

func TestDebouncer_Coalesces(t *testing.T) {
	var mu sync.Mutex
	fired := map[string]ChangeKind{}
	calls := 0
	d := NewDebouncer(20*time.Millisecond, func(path string, kind ChangeKind) {
		mu.Lock()
		defer mu.Unlock()
		fired[path] = kind
		calls++
	})
	defer d.Stop()

	d.Add("a", ChangeCreated)
	d.Add("a", ChangeModified)
	d.Add("a", ChangeModified)
	d.Add("b", ChangeModified)
	d.Add("b", ChangeDeleted)

	testutil.Eventually(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, "two settled paths")

	mu.Lock()
	defer mu.Unlock()
	if fired["a"] != ChangeCreated || fired["b"] != ChangeDeleted {
		t.Errorf("fired = %v", fired)
	}
}

func TestDebouncer_StopDropsPending(t *testing.T) {
	called := false
	d := NewDebouncer(10*time.Millisecond, func(string, ChangeKind) { called = true })
	d.Add("a", ChangeModified)
	d.Stop()
	d.Add("b", ChangeModified)

	if d.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", d.Pending())
	}
	time.Sleep(30 * time.Millisecond)
	if called {
		t.Error("callback fired after Stop")
	}
}

func TestMergeKinds(t *testing.T) {
	tests := []struct {
		existing, next, want ChangeKind
	}{
		{ChangeCreated, ChangeModified, ChangeCreated},
		{ChangeModified, ChangeDeleted, ChangeDeleted},
		{ChangeCreated, ChangeDeleted, ChangeDeleted},
		{ChangeModified, ChangeModified, ChangeModified},
		{ChangeDeleted, ChangeCreated, ChangeCreated},
	}
	for _, tt := range tests {
		if got := mergeKinds(tt.existing, tt.next); got != tt.want {
			t.Errorf("mergeKinds(%s, %s) = %s, want %s", tt.existing, tt.next, got, tt.want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(t.TempDir(), nil, Options{}); err == nil {
		t.Error("New() accepted a nil handler")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing"), func(Change) {}, Options{}); err == nil {
		t.Error("New() accepted a missing path")
	}
}

func TestWatcher_Directory(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	log := &changeLog{}
	w, err := New(root, log.handle, Options{Debounce: 20 * time.Millisecond, Ignore: []string{"*.swp"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	if err := os.WriteFile(filepath.Join(root, "sub", "notes.md"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes.md.swp"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, 2*time.Second, func() bool {
		_, ok := log.find("sub/notes.md")
		return ok
	}, "change reported")

	c, _ := log.find("sub/notes.md")
	if c.Kind != ChangeCreated && c.Kind != ChangeModified {
		t.Errorf("Kind = %s", c.Kind)
	}
	if c.Size != 5 || c.AbsPath != filepath.Join(root, "sub", "notes.md") {
		t.Errorf("change = %+v", c)
	}
	if _, ok := log.find("notes.md.swp"); ok {
		t.Error("ignored file reported")
	}
}

func TestWatcher_SingleFile(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "doc.txt")
	if err := os.WriteFile(target, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := &changeLog{}
	w, err := New(target, log.handle, Options{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("v2!"), 0o644); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, 2*time.Second, func() bool {
		_, ok := log.find("doc.txt")
		return ok
	}, "target change reported")
	if _, ok := log.find("other.txt"); ok {
		t.Error("sibling file reported")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if w.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	before := log.len()
	_ = os.WriteFile(target, []byte("v3"), 0o644)
	time.Sleep(60 * time.Millisecond)
	if log.len() != before {
		t.Error("change reported after Stop")
	}
}
