package files

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/brianly1003/docsync/internal/auth"
	"github.com/brianly1003/docsync/internal/backoff"
	"github.com/brianly1003/docsync/internal/crdt"
	"github.com/brianly1003/docsync/internal/domain"
	"github.com/brianly1003/docsync/internal/notify"
	"github.com/brianly1003/docsync/internal/pathutil"
	"github.com/brianly1003/docsync/internal/session"
	"github.com/brianly1003/docsync/internal/transport"
	"github.com/rs/zerolog/log"
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// HTTPBaseURL is the file service API origin.
	HTTPBaseURL string

	// DocumentWSURL is the websocket base for document sockets.
	DocumentWSURL string

	// NotificationWSURL is the websocket base of the notification socket.
	NotificationWSURL string

	Tokens     auth.Provider
	HTTPClient *http.Client

	HandshakeTimeout      time.Duration
	DocumentReconnect     backoff.Policy
	NotificationReconnect backoff.Policy

	Dial        transport.Dialer
	NewDocument crdt.Factory
}

// Service is the application-level entry point: file API calls, document
// sessions and file notifications behind one lifecycle.
type Service struct {
	files         *Client
	sessions      *session.Registry
	notifications *notify.Client
}

// NewService builds every collaborator. Nothing connects until used.
func NewService(opts ServiceOptions) (*Service, error) {
	client, err := NewClient(ClientOptions{
		BaseURL:    opts.HTTPBaseURL,
		Tokens:     opts.Tokens,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("file client: %w", err)
	}

	notifications, err := notify.NewClient(notify.Options{
		BaseURL:          opts.NotificationWSURL,
		Tokens:           opts.Tokens,
		Reconnect:        opts.NotificationReconnect,
		HandshakeTimeout: opts.HandshakeTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("notification client: %w", err)
	}

	sessions := session.NewRegistry(session.RegistryOptions{
		BaseURL:          opts.DocumentWSURL,
		Tokens:           opts.Tokens,
		Dial:             opts.Dial,
		NewDocument:      opts.NewDocument,
		HandshakeTimeout: opts.HandshakeTimeout,
		Reconnect:        opts.DocumentReconnect,
	})

	return &Service{
		files:         client,
		sessions:      sessions,
		notifications: notifications,
	}, nil
}

// Files returns the HTTP client.
func (s *Service) Files() *Client { return s.files }

// Sessions returns the document session registry.
func (s *Service) Sessions() *session.Registry { return s.sessions }

// Notifications returns the notification channel.
func (s *Service) Notifications() *notify.Client { return s.notifications }

// OpenDocument opens (or replaces) the collaborative session for path.
func (s *Service) OpenDocument(ctx context.Context, path string) (*session.Session, error) {
	return s.sessions.Connect(ctx, path, session.ConnectOptions{})
}

// CloseDocument tears down the session for path, if any.
func (s *Service) CloseDocument(ctx context.Context, path string) error {
	return s.sessions.Disconnect(ctx, path)
}

// Subscribe registers l for eventType on the notification channel.
func (s *Service) Subscribe(eventType string, l notify.Listener) error {
	return s.notifications.Subscribe(eventType, l)
}

// Unsubscribe removes l from eventType.
func (s *Service) Unsubscribe(eventType string, l notify.Listener) {
	s.notifications.Unsubscribe(eventType, l)
}

// Delete removes path, closing its document session first.
func (s *Service) Delete(ctx context.Context, path string) error {
	if pathutil.IsRoot(path) {
		return fmt.Errorf("delete %q: %w", path, domain.ErrInvalidPath)
	}
	if err := s.sessions.Disconnect(ctx, path); err != nil {
		return err
	}
	return s.files.Delete(ctx, path)
}

// Rename moves from to to. A session open on from is closed; callers reopen
// the document under its new path. Renaming a path onto itself makes no
// request, so the returned entry carries only Path and Name.
func (s *Service) Rename(ctx context.Context, from, to string) (Entry, error) {
	if pathutil.IsRoot(from) || pathutil.IsRoot(to) {
		return Entry{}, fmt.Errorf("rename %q to %q: %w", from, to, domain.ErrInvalidPath)
	}
	if pathutil.Normalize(from) == pathutil.Normalize(to) {
		return Entry{Path: pathutil.Normalize(to), Name: pathutil.DisplayName(to)}, nil
	}
	if err := s.sessions.Disconnect(ctx, from); err != nil {
		return Entry{}, err
	}
	return s.files.Rename(ctx, from, to)
}

// Move renames path into dir, keeping its name. Moving into the current
// parent is a no-op with the same partial entry as Rename.
func (s *Service) Move(ctx context.Context, path, dir string) (Entry, error) {
	if pathutil.Parent(path) == pathutil.Normalize(dir) {
		return Entry{Path: pathutil.Normalize(path), Name: pathutil.DisplayName(path)}, nil
	}
	return s.Rename(ctx, path, pathutil.Join(dir, pathutil.DisplayName(path)))
}

// Shutdown stops the notification channel and closes every session.
func (s *Service) Shutdown(ctx context.Context) error {
	s.notifications.Shutdown()

	var errs []error
	if err := s.sessions.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	select {
	case <-s.notifications.Done():
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	log.Info().Msg("docsync service stopped")
	return errors.Join(errs...)
}
