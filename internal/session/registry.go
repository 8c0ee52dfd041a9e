package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/brianly1003/docsync/internal/auth"
	"github.com/brianly1003/docsync/internal/backoff"
	"github.com/brianly1003/docsync/internal/crdt"
	"github.com/brianly1003/docsync/internal/domain"
	"github.com/brianly1003/docsync/internal/pathutil"
	"github.com/brianly1003/docsync/internal/sync"
	"github.com/brianly1003/docsync/internal/transport"
	"github.com/rs/zerolog/log"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// BaseURL is the websocket base for document sockets.
	BaseURL string

	// Tokens resolves the realtime token. Nil means unauthenticated.
	Tokens auth.Provider

	// Dial constructs transports. Defaults to transport.DialWebSocket.
	Dial transport.Dialer

	// NewDocument creates document handles. Defaults to in-memory documents.
	NewDocument crdt.Factory

	HandshakeTimeout time.Duration
	Reconnect        backoff.Policy

	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

// ConnectOptions tunes a single Connect call.
type ConnectOptions struct {
	// Token overrides the token provider when non-empty.
	Token string

	// SkipAuth connects without resolving a token.
	SkipAuth bool

	// Params are extra query parameters for the socket URL.
	Params map[string]string
}

// keyLock serializes connect/disconnect for one normalized path. The
// buffered channel is the lock so acquisition can observe cancellation.
type keyLock struct {
	sem  chan struct{}
	refs int
}

type pendingConnect struct {
	cancel context.CancelFunc
}

// Registry owns every live document session, at most one per normalized
// path. Connect and Disconnect for the same path are serialized; a newer
// request cancels an older in-flight Connect for that path.
type Registry struct {
	opts RegistryOptions

	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*keyLock
	inflight map[string]*pendingConnect
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Dial == nil {
		opts.Dial = transport.DialWebSocket
	}
	if opts.NewDocument == nil {
		opts.NewDocument = crdt.NewMemoryFactory()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		opts:     opts,
		sessions: make(map[string]*Session),
		locks:    make(map[string]*keyLock),
		inflight: make(map[string]*pendingConnect),
	}
}

// Connect opens a session for path, replacing any existing session for the
// same normalized path. The previous session is torn down before the new
// transport is dialed. On failure no entry is left for the path.
func (r *Registry) Connect(ctx context.Context, path string, opts ConnectOptions) (*Session, error) {
	key := pathutil.Normalize(path)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domain.ErrRegistryClosed
	}
	if prev, ok := r.inflight[key]; ok {
		prev.cancel()
	}
	connectCtx, cancel := context.WithCancel(ctx)
	pending := &pendingConnect{cancel: cancel}
	r.inflight[key] = pending
	kl := r.refLocked(key)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.inflight[key] == pending {
			delete(r.inflight, key)
		}
		r.unrefLocked(key, kl)
		r.mu.Unlock()
		cancel()
	}()

	select {
	case kl.sem <- struct{}{}:
	case <-connectCtx.Done():
		return nil, r.abortErr(ctx)
	}
	defer func() { <-kl.sem }()

	if err := connectCtx.Err(); err != nil {
		return nil, r.abortErr(ctx)
	}

	r.mu.Lock()
	old := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if old != nil {
		r.teardown(old, "replaced")
	}

	documentID := pathutil.DocumentID(key)
	token := r.resolveToken(connectCtx, opts)
	if connectCtx.Err() != nil {
		return nil, r.abortErr(ctx)
	}

	doc := r.opts.NewDocument(documentID)
	provider, err := r.opts.Dial(connectCtx, transport.Options{
		BaseURL:          r.opts.BaseURL,
		DocumentID:       documentID,
		Token:            token,
		Params:           opts.Params,
		Document:         doc,
		HandshakeTimeout: r.opts.HandshakeTimeout,
		Reconnect:        r.opts.Reconnect,
	})
	if err != nil {
		_ = safely("document destroy", doc.Destroy)
		if connectCtx.Err() != nil {
			return nil, r.abortErr(ctx)
		}
		return nil, fmt.Errorf("connect %s: %w", key, err)
	}

	sess := newSession(key, documentID, doc, provider, r.opts.Now)
	if err := provider.Connect(connectCtx); err != nil {
		_ = sess.close()
		if connectCtx.Err() != nil {
			return nil, r.abortErr(ctx)
		}
		return nil, fmt.Errorf("connect %s: %w", key, err)
	}

	r.mu.Lock()
	if r.closed || connectCtx.Err() != nil {
		r.mu.Unlock()
		r.teardown(sess, "superseded")
		return nil, r.abortErr(ctx)
	}
	r.sessions[key] = sess
	r.mu.Unlock()

	log.Info().
		Str("path", key).
		Str("document_id", documentID).
		Str("session_id", sess.ID()).
		Bool("authenticated", token != "").
		Msg("document session opened")

	return sess, nil
}

// Disconnect tears down the session for path. A missing session is a
// no-op. The entry is removed even if teardown fails. An in-flight Connect
// for the same path is canceled.
func (r *Registry) Disconnect(ctx context.Context, path string) error {
	key := pathutil.Normalize(path)

	r.mu.Lock()
	if prev, ok := r.inflight[key]; ok {
		prev.cancel()
	}
	kl := r.refLocked(key)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.unrefLocked(key, kl)
		r.mu.Unlock()
	}()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-kl.sem }()

	r.mu.Lock()
	sess := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if sess != nil {
		r.teardown(sess, "disconnected")
	}
	return nil
}

// Get returns the live session for path.
func (r *Registry) Get(path string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[pathutil.Normalize(path)]
	return sess, ok
}

// Paths returns the normalized paths with a live session, sorted.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	paths := make([]string, 0, len(r.sessions))
	for p := range r.sessions {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close cancels in-flight connects and tears down every session. Further
// Connect calls fail with domain.ErrRegistryClosed. An expired ctx is
// reported after teardown completes.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, p := range r.inflight {
		p.cancel()
	}
	sessions := make([]*Session, 0, len(r.sessions))
	for key, sess := range r.sessions {
		sessions = append(sessions, sess)
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	// Every detached session is torn down even when ctx has expired; nothing
	// else holds a reference to them.
	for _, sess := range sessions {
		r.teardown(sess, "registry closed")
	}

	log.Debug().Int("sessions", len(sessions)).Msg("session registry closed")
	return ctx.Err()
}

func (r *Registry) resolveToken(ctx context.Context, opts ConnectOptions) string {
	if opts.Token != "" {
		return opts.Token
	}
	if opts.SkipAuth || r.opts.Tokens == nil {
		return ""
	}
	token, ok := r.opts.Tokens.Token(ctx)
	if !ok {
		log.Debug().Msg("no realtime token available, connecting unauthenticated")
		return ""
	}
	return token
}

// teardown closes sess, logging and swallowing any error.
func (r *Registry) teardown(sess *Session, reason string) {
	if err := sess.close(); err != nil {
		log.Warn().
			Err(err).
			Str("path", sess.Path()).
			Str("session_id", sess.ID()).
			Str("reason", reason).
			Msg("document session teardown failed")
		return
	}
	log.Debug().
		Str("path", sess.Path()).
		Str("session_id", sess.ID()).
		Str("reason", reason).
		Msg("document session closed")
}

// abortErr reports why a connect stopped early: the caller's own context,
// registry shutdown, or supersession by a newer request.
func (r *Registry) abortErr(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return domain.ErrRegistryClosed
	}
	return domain.ErrSuperseded
}

func (r *Registry) refLocked(key string) *keyLock {
	kl, ok := r.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		r.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (r *Registry) unrefLocked(key string, kl *keyLock) {
	kl.refs--
	if kl.refs == 0 && r.locks[key] == kl {
		delete(r.locks, key)
	}
}

// IsAbort reports whether err is a supersession or shutdown abort rather
// than a transport failure.
func IsAbort(err error) bool {
	return errors.Is(err, domain.ErrSuperseded) || errors.Is(err, domain.ErrRegistryClosed)
}
