package transport

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/brianly1003/docsync/internal/backoff"
	"github.com/brianly1003/docsync/internal/domain"
	"github.com/brianly1003/docsync/internal/sync"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Default timeouts for websocket operations.
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 15 * time.Second

	// Default maximum inbound frame size (8MB); full-state sync frames of
	// large documents arrive in one message.
	DefaultMaxMessageSize = 8 * 1024 * 1024

	// Ping interval for keepalive
	DefaultPingInterval = 30 * time.Second
	DefaultPongTimeout  = 60 * time.Second
)

// WebSocketProvider implements Provider over a gorilla websocket. It dials
// BaseURL/DocumentID, applies inbound binary frames to the document and ships
// local document updates as binary frames. Dropped connections are redialed
// with the configured backoff until Disconnect or Destroy.
type WebSocketProvider struct {
	id         string
	documentID string
	url        string
	opts       Options
	dialer     *websocket.Dialer

	mu        sync.Mutex
	status    Status
	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}
	destroyed bool
	statusObs map[int]func(Status)
	syncObs   map[int]func()
	nextObs   int

	writeMu sync.Mutex
}

// DialWebSocket is a Dialer producing WebSocketProviders.
func DialWebSocket(ctx context.Context, opts Options) (Provider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewWebSocketProvider(opts)
}

// NewWebSocketProvider validates opts and creates a disconnected provider.
func NewWebSocketProvider(opts Options) (*WebSocketProvider, error) {
	if opts.DocumentID == "" {
		return nil, domain.NewTransportError("construct", "", fmt.Errorf("document id is required"))
	}
	if opts.Document == nil {
		return nil, domain.NewTransportError("construct", opts.DocumentID, fmt.Errorf("document is required"))
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, domain.NewTransportError("construct", opts.DocumentID, err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return nil, domain.NewTransportError("construct", opts.DocumentID,
			fmt.Errorf("base url scheme must be ws or wss, got %q", base.Scheme))
	}

	socketURL, err := URL(opts)
	if err != nil {
		return nil, domain.NewTransportError("construct", opts.DocumentID, err)
	}

	handshake := opts.HandshakeTimeout
	if handshake <= 0 {
		handshake = DefaultHandshakeTimeout
	}
	opts.HandshakeTimeout = handshake

	return &WebSocketProvider{
		id:         GenerateID(),
		documentID: opts.DocumentID,
		url:        socketURL,
		opts:       opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshake,
		},
		status:    StatusDisconnected,
		statusObs: make(map[int]func(Status)),
		syncObs:   make(map[int]func()),
	}, nil
}

// ID returns the unique identifier for this provider.
func (p *WebSocketProvider) ID() string {
	return p.id
}

// DocumentID returns the document the provider is scoped to.
func (p *WebSocketProvider) DocumentID() string {
	return p.documentID
}

// Status returns the current connection status.
func (p *WebSocketProvider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Connect starts the connection loop.
func (p *WebSocketProvider) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return domain.NewTransportError("connect", p.documentID, domain.ErrTransportClosed)
	}
	if p.done != nil {
		select {
		case <-p.done:
			// Previous loop gave up; start a fresh one.
		default:
			return nil
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go p.run(runCtx, done)
	return nil
}

// Disconnect stops the connection loop and waits for it to exit.
func (p *WebSocketProvider) Disconnect() error {
	p.mu.Lock()
	cancel, done, conn := p.cancel, p.done, p.conn
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		// The serve loop may already have closed the socket after cancel;
		// a failed close frame here is expected in that case.
		p.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		p.writeMu.Unlock()
		_ = conn.Close()
	}

	if done != nil {
		<-done
	}
	p.setStatus(StatusDisconnected)
	return nil
}

// Destroy disconnects and drops every observer.
func (p *WebSocketProvider) Destroy() error {
	err := p.Disconnect()

	p.mu.Lock()
	p.destroyed = true
	p.statusObs = make(map[int]func(Status))
	p.syncObs = make(map[int]func())
	p.mu.Unlock()

	return err
}

// OnStatus registers an observer for status transitions.
func (p *WebSocketProvider) OnStatus(fn func(Status)) func() {
	p.mu.Lock()
	id := p.nextObs
	p.nextObs++
	p.statusObs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.statusObs, id)
		p.mu.Unlock()
	}
}

// OnSync registers an observer for sync completions.
func (p *WebSocketProvider) OnSync(fn func()) func() {
	p.mu.Lock()
	id := p.nextObs
	p.nextObs++
	p.syncObs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.syncObs, id)
		p.mu.Unlock()
	}
}

func (p *WebSocketProvider) setStatus(s Status) {
	p.mu.Lock()
	if p.status == s {
		p.mu.Unlock()
		return
	}
	p.status = s
	observers := make([]func(Status), 0, len(p.statusObs))
	for i := 0; i < p.nextObs; i++ {
		if fn, ok := p.statusObs[i]; ok {
			observers = append(observers, fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}

func (p *WebSocketProvider) notifySync() {
	p.mu.Lock()
	observers := make([]func(), 0, len(p.syncObs))
	for i := 0; i < p.nextObs; i++ {
		if fn, ok := p.syncObs[i]; ok {
			observers = append(observers, fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

// run dials, serves and redials until ctx is canceled or the reconnect
// policy is exhausted.
func (p *WebSocketProvider) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	for {
		p.setStatus(StatusConnecting)

		dialCtx, cancel := context.WithTimeout(ctx, p.opts.HandshakeTimeout)
		conn, _, err := p.dialer.DialContext(dialCtx, p.url, nil)
		cancel()

		if err == nil {
			attempt = 0
			if !p.attach(ctx, conn) {
				_ = conn.Close()
				p.setStatus(StatusDisconnected)
				return
			}
			p.setStatus(StatusConnected)
			p.serve(ctx, conn)
			p.detach(conn)
		} else {
			log.Debug().
				Err(err).
				Str("document_id", p.documentID).
				Int("attempt", attempt).
				Msg("document transport dial failed")
		}

		p.setStatus(StatusDisconnected)
		if ctx.Err() != nil {
			return
		}
		if p.opts.Reconnect.Exhausted(attempt) {
			log.Warn().
				Str("document_id", p.documentID).
				Int("attempts", attempt).
				Msg("document transport giving up reconnect")
			return
		}
		delay := p.opts.Reconnect.Delay(attempt)
		attempt++
		if err := backoff.Wait(ctx, delay); err != nil {
			return
		}
	}
}

func (p *WebSocketProvider) attach(ctx context.Context, conn *websocket.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	p.conn = conn
	return true
}

func (p *WebSocketProvider) detach(conn *websocket.Conn) {
	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	p.mu.Unlock()
	_ = conn.Close()
}

// serve pumps frames on conn until it fails or ctx is canceled.
func (p *WebSocketProvider) serve(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)

	conn.SetReadLimit(DefaultMaxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(DefaultPongTimeout))
	})

	cancelLocal := p.opts.Document.OnLocalUpdate(func(update []byte) {
		if err := p.write(conn, websocket.BinaryMessage, update); err != nil {
			log.Debug().Err(err).Str("document_id", p.documentID).Msg("document update write failed")
		}
	})
	defer cancelLocal()

	go func() {
		ticker := time.NewTicker(DefaultPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := p.write(conn, websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	synced := false
	for {
		_ = conn.SetReadDeadline(time.Now().Add(DefaultPongTimeout))
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("document_id", p.documentID).Msg("document transport read failed")
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if err := p.opts.Document.Apply(data); err != nil {
			log.Warn().Err(err).Str("document_id", p.documentID).Msg("document update apply failed")
			continue
		}
		if !synced {
			synced = true
			p.notifySync()
		}
	}
}

func (p *WebSocketProvider) write(conn *websocket.Conn, messageType int, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	return conn.WriteMessage(messageType, data)
}

var _ Provider = (*WebSocketProvider)(nil)
