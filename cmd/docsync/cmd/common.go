package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"syscall"

	"github.com/brianly1003/docsync/internal/auth"
	"github.com/brianly1003/docsync/internal/config"
	"github.com/brianly1003/docsync/internal/domain"
	"github.com/brianly1003/docsync/internal/files"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loadConfig loads configuration, applies global flag overrides and sets up
// logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if tokenFlag != "" {
		cfg.Server.Token = tokenFlag
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "console" || verbose {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// tokenProvider prefers a configured token and otherwise asks the service.
// The jar starts empty, so the first token always comes from the token
// endpoint; later calls reuse the cookie if the endpoint sets one.
func tokenProvider(cfg *config.Config) (auth.Provider, error) {
	if cfg.Server.Token != "" {
		return auth.StaticProvider(cfg.Server.Token), nil
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return auth.NewCookieProvider(cfg.Server.BaseURL, jar, auth.WithCookieName(cfg.Server.CookieName))
}

func newService(cfg *config.Config) (*files.Service, error) {
	tokens, err := tokenProvider(cfg)
	if err != nil {
		return nil, err
	}
	return files.NewService(files.ServiceOptions{
		HTTPBaseURL:           cfg.Server.BaseURL,
		DocumentWSURL:         cfg.DocumentWSURL(),
		NotificationWSURL:     cfg.Server.WSURL,
		Tokens:                tokens,
		HandshakeTimeout:      cfg.HandshakeTimeout(),
		DocumentReconnect:     cfg.TransportPolicy(),
		NotificationReconnect: cfg.NotificationPolicy(),
	})
}

func newFileClient(cfg *config.Config) (*files.Client, error) {
	tokens, err := tokenProvider(cfg)
	if err != nil {
		return nil, err
	}
	return files.NewClient(files.ClientOptions{BaseURL: cfg.Server.BaseURL, Tokens: tokens})
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withHint adds a next step to errors the user can act on.
func withHint(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrUnauthorized):
		return fmt.Errorf("%w (set server.token or pass --token)", err)
	case errors.Is(err, domain.ErrConflict):
		return fmt.Errorf("%w (the destination already exists)", err)
	}
	return err
}
