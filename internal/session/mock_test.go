package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/brianly1003/docsync/internal/transport"
)

// mockProvider is a transport.Provider driven by the test.
type mockProvider struct {
	id   string
	opts transport.Options

	mu          sync.Mutex
	status      transport.Status
	statusObs   map[int]func(transport.Status)
	syncObs     map[int]func()
	next        int
	connects    int
	disconnects int
	destroys    int

	connectErr    error
	disconnectErr error
	destroyPanic  bool
}

func newMockProvider(opts transport.Options) *mockProvider {
	return &mockProvider{
		id:        transport.GenerateID(),
		opts:      opts,
		status:    transport.StatusDisconnected,
		statusObs: make(map[int]func(transport.Status)),
		syncObs:   make(map[int]func()),
	}
}

func (m *mockProvider) ID() string         { return m.id }
func (m *mockProvider) DocumentID() string { return m.opts.DocumentID }

func (m *mockProvider) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	return m.connectErr
}

func (m *mockProvider) Disconnect() error {
	m.mu.Lock()
	m.disconnects++
	err := m.disconnectErr
	m.mu.Unlock()
	return err
}

func (m *mockProvider) Destroy() error {
	m.mu.Lock()
	m.destroys++
	panics := m.destroyPanic
	m.mu.Unlock()
	if panics {
		panic("destroy exploded")
	}
	return nil
}

func (m *mockProvider) Status() transport.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockProvider) OnStatus(fn func(transport.Status)) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.statusObs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.statusObs, id)
		m.mu.Unlock()
	}
}

func (m *mockProvider) OnSync(fn func()) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.syncObs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.syncObs, id)
		m.mu.Unlock()
	}
}

// emitStatus simulates a transport status transition.
func (m *mockProvider) emitStatus(s transport.Status) {
	m.mu.Lock()
	m.status = s
	obs := make([]func(transport.Status), 0, len(m.statusObs))
	for i := 0; i < m.next; i++ {
		if fn, ok := m.statusObs[i]; ok {
			obs = append(obs, fn)
		}
	}
	m.mu.Unlock()
	for _, fn := range obs {
		fn(s)
	}
}

// emitSync simulates a sync completion.
func (m *mockProvider) emitSync() {
	m.mu.Lock()
	obs := make([]func(), 0, len(m.syncObs))
	for i := 0; i < m.next; i++ {
		if fn, ok := m.syncObs[i]; ok {
			obs = append(obs, fn)
		}
	}
	m.mu.Unlock()
	for _, fn := range obs {
		fn()
	}
}

func (m *mockProvider) counts() (connects, disconnects, destroys int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects, m.disconnects, m.destroys
}

func (m *mockProvider) observerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.statusObs) + len(m.syncObs)
}

// mockDialer records every provider it builds. When gate is set, dials
// block until the gate is released or the context is canceled.
type mockDialer struct {
	mu        sync.Mutex
	providers []*mockProvider
	dials     int32
	fail      error
	gate      chan struct{}
	started   chan struct{}
	configure func(*mockProvider)
}

var errDialFailed = errors.New("dial failed")

func (d *mockDialer) dial(ctx context.Context, opts transport.Options) (transport.Provider, error) {
	atomic.AddInt32(&d.dials, 1)
	if d.started != nil {
		d.started <- struct{}{}
	}
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	p := newMockProvider(opts)
	if d.configure != nil {
		d.configure(p)
	}
	d.providers = append(d.providers, p)
	return p, nil
}

func (d *mockDialer) provider(i int) *mockProvider {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.providers) {
		return nil
	}
	return d.providers[i]
}

func (d *mockDialer) built() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.providers)
}
