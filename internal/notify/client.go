// Package notify implements the file-event notification channel: one lazily
// opened websocket shared by every subscriber, with bounded reconnect and
// ordered, panic-isolated dispatch.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/brianly1003/docsync/internal/auth"
	"github.com/brianly1003/docsync/internal/backoff"
	"github.com/brianly1003/docsync/internal/domain"
	"github.com/brianly1003/docsync/internal/sync"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Endpoint is the path of the notification socket under the websocket base.
const Endpoint = "/notifications"

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 5

	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMaxMessageSize   = 1024 * 1024
	DefaultPingInterval     = 30 * time.Second
	DefaultPongTimeout      = 60 * time.Second
	writeTimeout            = 5 * time.Second
)

// State is the connection state of the channel.
type State string

const (
	StateDormant    State = "dormant"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// Notification is one inbound frame.
type Notification struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the payload into v.
func (n Notification) Decode(v any) error {
	if len(n.Data) == 0 {
		return fmt.Errorf("notification %s has no data", n.Type)
	}
	return json.Unmarshal(n.Data, v)
}

// Listener receives notifications. Listeners are identified by interface
// equality, so the dynamic type must be comparable.
type Listener interface {
	HandleNotification(Notification)
}

type funcListener struct {
	fn func(Notification)
}

func (l *funcListener) HandleNotification(n Notification) { l.fn(n) }

// NewListener wraps fn. Each call returns a distinct listener; keep the
// returned value to unsubscribe later.
func NewListener(fn func(Notification)) Listener {
	return &funcListener{fn: fn}
}

// Options configures a Client.
type Options struct {
	// BaseURL is the websocket base; the socket is BaseURL + Endpoint.
	BaseURL string

	// Tokens resolves the token sent as ?token=. Nil means unauthenticated.
	Tokens auth.Provider

	Reconnect        backoff.Policy
	HandshakeTimeout time.Duration
}

// Client is the notification channel. It stays dormant until the first
// Subscribe and survives until Shutdown.
type Client struct {
	opts   Options
	dialer *websocket.Dialer

	mu        sync.Mutex
	state     State
	shutdown  bool
	listeners map[string][]Listener
	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}

	writeMu sync.Mutex
}

// NewClient creates a dormant client.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse notification base url: %w", err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return nil, domain.NewValidationError("base_url", fmt.Sprintf("scheme must be ws or wss, got %q", base.Scheme))
	}

	if opts.Reconnect.Base <= 0 {
		opts.Reconnect.Base = DefaultBaseDelay
	}
	if opts.Reconnect.Max <= 0 {
		opts.Reconnect.Max = DefaultMaxDelay
	}
	if opts.Reconnect.MaxAttempts <= 0 {
		opts.Reconnect.MaxAttempts = DefaultMaxAttempts
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}

	return &Client{
		opts:      opts,
		dialer:    &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		state:     StateDormant,
		listeners: make(map[string][]Listener),
	}, nil
}

// URL builds the socket URL for token. An empty token is omitted.
func URL(base, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + Endpoint)
	if err != nil {
		return "", err
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsShutdown reports whether Shutdown has been called.
func (c *Client) IsShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// Subscribe registers l for eventType and opens the channel if it is
// dormant. Registering the same pair twice is a no-op.
func (c *Client) Subscribe(eventType string, l Listener) error {
	if err := validListener(l); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return domain.ErrChannelShutdown
	}

	if !containsListener(c.listeners[eventType], l) {
		c.listeners[eventType] = append(c.listeners[eventType], l)
	}

	if c.state == StateDormant {
		c.startLocked()
	}
	return nil
}

// Unsubscribe removes l from eventType. The connection stays open even if no
// listeners remain.
func (c *Client) Unsubscribe(eventType string, l Listener) {
	if validListener(l) != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ls := c.listeners[eventType]
	for i, existing := range ls {
		if existing == l {
			c.listeners[eventType] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(c.listeners[eventType]) == 0 {
		delete(c.listeners, eventType)
	}
}

// Listeners returns how many listeners are registered for eventType.
func (c *Client) Listeners(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners[eventType])
}

// Shutdown stops the channel for good: any pending reconnect is canceled and
// the socket is closed. It does not wait for the read loop, so it is safe to
// call from a listener.
func (c *Client) Shutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	c.state = StateClosed
	cancel, conn := c.cancel, c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		c.writeMu.Unlock()
		_ = conn.Close()
	}

	log.Debug().Msg("notification channel shut down")
}

// Done is closed when the current connection loop exits. It returns a
// closed channel if no loop has ever run.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// startLocked launches the connection loop. Callers hold c.mu.
func (c *Client) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.state = StateConnecting
	go c.run(ctx, done)
}

// run dials, reads and redials until shutdown or the reconnect policy is
// exhausted, in which case the client returns to dormant.
func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	for {
		if !c.setState(StateConnecting) {
			return
		}

		conn, err := c.dial(ctx)
		if err == nil {
			attempt = 0
			if !c.attach(conn) {
				_ = conn.Close()
				return
			}
			log.Info().Msg("notification channel open")
			c.read(ctx, conn)
			c.detach(conn)
			if !c.setState(StateClosed) {
				return
			}
		} else {
			log.Debug().Err(err).Int("attempt", attempt).Msg("notification channel dial failed")
			if !c.setState(StateClosed) {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		if c.opts.Reconnect.Exhausted(attempt) {
			log.Warn().Int("attempts", attempt).Msg("notification channel giving up reconnect")
			c.mu.Lock()
			if !c.shutdown {
				c.state = StateDormant
				if c.cancel != nil {
					c.cancel()
				}
				c.cancel = nil
			}
			c.mu.Unlock()
			return
		}

		delay := c.opts.Reconnect.Delay(attempt)
		attempt++
		log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("notification channel reconnect scheduled")
		if err := backoff.Wait(ctx, delay); err != nil {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token := ""
	if c.opts.Tokens != nil {
		if t, ok := c.opts.Tokens.Token(ctx); ok {
			token = t
		}
	}
	socketURL, err := URL(c.opts.BaseURL, token)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dialCtx, socketURL, nil)
	return conn, err
}

// setState records s unless the client was shut down. It reports whether
// the loop should keep going.
func (c *Client) setState(s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return false
	}
	c.state = s
	return true
}

func (c *Client) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return false
	}
	c.conn = conn
	c.state = StateOpen
	return true
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)

	conn.SetReadLimit(DefaultMaxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(DefaultPongTimeout))
	})

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
				c.writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(DefaultPongTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("notification channel read failed")
			}
			return
		}

		n, err := parse(data)
		if err != nil {
			log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed notification")
			continue
		}
		c.dispatch(n)
	}
}

func parse(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, err
	}
	if n.Type == "" {
		return Notification{}, fmt.Errorf("notification has no type")
	}
	return n, nil
}

// dispatch invokes every listener for n.Type in registration order. A
// panicking listener is logged and skipped.
func (c *Client) dispatch(n Notification) {
	c.mu.Lock()
	ls := append([]Listener(nil), c.listeners[n.Type]...)
	c.mu.Unlock()

	for _, l := range ls {
		invoke(l, n)
	}
}

func invoke(l Listener, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event_type", n.Type).
				Interface("panic", r).
				Msg("notification listener panicked")
		}
	}()
	l.HandleNotification(n)
}

func validListener(l Listener) error {
	if l == nil {
		return domain.ErrInvalidListener
	}
	if !reflect.TypeOf(l).Comparable() {
		return domain.ErrInvalidListener
	}
	return nil
}

func containsListener(ls []Listener, l Listener) bool {
	for _, existing := range ls {
		if existing == l {
			return true
		}
	}
	return false
}
