// Package transport provides the realtime connection that carries sync
// traffic for one collaborative document.
package transport

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/brianly1003/docsync/internal/backoff"
	"github.com/brianly1003/docsync/internal/crdt"
	"github.com/google/uuid"
)

// Status is the connection status a provider reports.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Provider is a realtime connection scoped to one document.
type Provider interface {
	// ID returns a unique identifier for this provider instance.
	ID() string

	// DocumentID returns the document the provider is scoped to.
	DocumentID() string

	// Connect starts the connection in the background. It returns once the
	// connection loop is running; status changes are reported through
	// OnStatus. Calling Connect on a running provider is a no-op.
	Connect(ctx context.Context) error

	// Disconnect stops the connection loop and closes the socket. The
	// provider may be connected again afterwards.
	Disconnect() error

	// Destroy disconnects and releases every observer. A destroyed
	// provider cannot be reconnected. Destroy is safe to call repeatedly.
	Destroy() error

	// Status returns the current connection status.
	Status() Status

	// OnStatus registers fn for status transitions.
	OnStatus(fn func(Status)) (cancel func())

	// OnSync registers fn for sync completions.
	OnSync(fn func()) (cancel func())
}

// Options configures a provider.
type Options struct {
	// BaseURL is the websocket base; the socket URL is BaseURL/DocumentID.
	BaseURL    string
	DocumentID string
	Token      string
	Params     map[string]string
	Document   crdt.Document

	HandshakeTimeout time.Duration
	Reconnect        backoff.Policy
}

// Dialer constructs a provider. Construction failures are returned as
// errors; nothing is left running in that case.
type Dialer func(ctx context.Context, opts Options) (Provider, error)

// URL builds the socket URL for opts: BaseURL + "/" + DocumentID, with the
// token and extra params in the query string. The document ID is a path, not
// URL text: characters such as '#', '?' and '%' are escaped.
func URL(opts Options) (string, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + opts.DocumentID
	u.RawPath = ""
	u.Fragment = ""

	q := u.Query()
	for k, v := range opts.Params {
		q.Set(k, v)
	}
	if opts.Token != "" {
		q.Set("token", opts.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// GenerateID generates a unique provider ID.
func GenerateID() string {
	return uuid.New().String()
}
