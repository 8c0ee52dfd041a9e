// Package session manages collaborative document sessions: one CRDT document
// handle paired with one realtime transport per normalized file path.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianly1003/docsync/internal/crdt"
	"github.com/brianly1003/docsync/internal/domain"
	"github.com/brianly1003/docsync/internal/sync"
	"github.com/brianly1003/docsync/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State represents the connection state of a session.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateClosed       State = "closed"
)

// StateChange describes one state transition of a session.
type StateChange struct {
	SessionID string    `json:"session_id"`
	Path      string    `json:"path"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	At        time.Time `json:"at"`
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	ID         string     `json:"id"`
	Path       string     `json:"path"`
	DocumentID string     `json:"document_id"`
	State      State      `json:"state"`
	Connected  bool       `json:"connected"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const watcherBufferSize = 16

// Session pairs a document handle with its transport. Connection fields are
// mutated only by transport callbacks and teardown.
type Session struct {
	id         string
	path       string
	documentID string
	createdAt  time.Time

	doc      crdt.Document
	provider transport.Provider
	now      func() time.Time

	mu         sync.RWMutex
	state      State
	connected  bool
	lastSyncAt time.Time
	changed    chan struct{}
	watchers   map[int]chan StateChange
	nextWatch  int
	unobserve  []func()
	closed     bool
}

func newSession(path, documentID string, doc crdt.Document, provider transport.Provider, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	s := &Session{
		id:         uuid.New().String(),
		path:       path,
		documentID: documentID,
		createdAt:  now().UTC(),
		doc:        doc,
		provider:   provider,
		now:        now,
		state:      StateConnecting,
		changed:    make(chan struct{}),
		watchers:   make(map[int]chan StateChange),
	}

	s.unobserve = append(s.unobserve,
		provider.OnStatus(s.handleStatus),
		provider.OnSync(s.handleSync),
	)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Path returns the normalized path the session is keyed by.
func (s *Session) Path() string {
	return s.path
}

// DocumentID returns the sync-backend document identifier.
func (s *Session) DocumentID() string {
	return s.documentID
}

// Document returns the session's document handle.
func (s *Session) Document() crdt.Document {
	return s.doc
}

// Connected reports whether the transport is currently connected.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// LastSyncAt returns the time of the last sync, if any.
func (s *Session) LastSyncAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncAt, !s.lastSyncAt.IsZero()
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ID:         s.id,
		Path:       s.path,
		DocumentID: s.documentID,
		State:      s.state,
		Connected:  s.connected,
		CreatedAt:  s.createdAt,
	}
	if !s.lastSyncAt.IsZero() {
		t := s.lastSyncAt
		info.LastSyncAt = &t
	}
	return info
}

// Subscribe returns a channel of state transitions. The channel is closed
// when the session is torn down or cancel is called. Slow readers miss
// transitions rather than blocking the transport.
func (s *Session) Subscribe() (<-chan StateChange, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan StateChange, watcherBufferSize)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	}
}

// WaitFor blocks until the session reaches target, the session is closed,
// or ctx is done.
func (s *Session) WaitFor(ctx context.Context, target State) error {
	for {
		s.mu.RLock()
		state, changed := s.state, s.changed
		s.mu.RUnlock()

		if state == target {
			return nil
		}
		if state == StateClosed {
			return domain.ErrSessionClosed
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) handleStatus(status transport.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.connected = status == transport.StatusConnected
	if s.connected {
		s.lastSyncAt = s.now().UTC()
	}

	switch status {
	case transport.StatusConnecting:
		s.transitionLocked(StateConnecting)
	case transport.StatusConnected:
		s.transitionLocked(StateConnected)
	default:
		s.transitionLocked(StateDisconnected)
	}
}

func (s *Session) handleSync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.lastSyncAt = s.now().UTC()
}

// transitionLocked moves to next and notifies watchers. Callers hold s.mu.
func (s *Session) transitionLocked(next State) {
	if s.state == next {
		return
	}

	change := StateChange{
		SessionID: s.id,
		Path:      s.path,
		From:      s.state,
		To:        next,
		At:        s.now().UTC(),
	}
	s.state = next

	close(s.changed)
	s.changed = make(chan struct{})

	for id, ch := range s.watchers {
		select {
		case ch <- change:
		default:
			log.Warn().
				Str("session_id", s.id).
				Int("watcher", id).
				Str("state", string(next)).
				Msg("state watcher full, dropping transition")
		}
	}
}

// close tears the session down: transport disconnect, transport release,
// then document destroy. Every step runs even if an earlier one fails; the
// collected errors are returned for logging only.
func (s *Session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unobserve := s.unobserve
	s.unobserve = nil
	s.mu.Unlock()

	for _, cancel := range unobserve {
		cancel()
	}

	var errs []error
	if err := safely("transport disconnect", s.provider.Disconnect); err != nil {
		errs = append(errs, err)
	}
	if err := safely("transport destroy", s.provider.Destroy); err != nil {
		errs = append(errs, err)
	}
	if err := safely("document destroy", s.doc.Destroy); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	s.connected = false
	s.transitionLocked(StateClosed)
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
	s.mu.Unlock()

	return errors.Join(errs...)
}

// safely runs fn, converting a panic into an error.
func safely(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", op, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
