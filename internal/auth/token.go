// Package auth resolves the bearer token used to authenticate realtime
// channels against the file service.
package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultCookieName is the client-readable cookie the service sets for
	// realtime bootstrapping.
	DefaultCookieName = "ws_token"

	// TokenEndpoint issues a realtime token when no cookie is available.
	TokenEndpoint = "/auth/ws-token"

	maxTokenResponseBytes = 64 * 1024
)

// Provider resolves a realtime-channel token.
//
// A false result means the caller should proceed unauthenticated; providers
// never fail hard.
type Provider interface {
	Token(ctx context.Context) (string, bool)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, bool)

// Token calls f.
func (f ProviderFunc) Token(ctx context.Context) (string, bool) {
	return f(ctx)
}

// StaticProvider always returns the same token. An empty token reports false.
type StaticProvider string

// Token returns the static token.
func (p StaticProvider) Token(context.Context) (string, bool) {
	token := strings.TrimSpace(string(p))
	return token, token != ""
}

// CookieProvider reads the token from a cookie jar and falls back to the
// token endpoint. Nothing is cached between calls.
type CookieProvider struct {
	baseURL    *url.URL
	jar        http.CookieJar
	cookieName string
	httpClient *http.Client
}

// CookieProviderOption configures a CookieProvider.
type CookieProviderOption func(*CookieProvider)

// WithCookieName overrides DefaultCookieName.
func WithCookieName(name string) CookieProviderOption {
	return func(p *CookieProvider) {
		if name = strings.TrimSpace(name); name != "" {
			p.cookieName = name
		}
	}
}

// WithHTTPClient sets the client used for the token endpoint.
func WithHTTPClient(c *http.Client) CookieProviderOption {
	return func(p *CookieProvider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// NewCookieProvider creates a provider for the service at baseURL. jar may
// be nil, in which case every call goes to the token endpoint. A non-nil jar
// also receives cookies set by the token endpoint.
func NewCookieProvider(baseURL string, jar http.CookieJar, opts ...CookieProviderOption) (*CookieProvider, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, err
	}

	p := &CookieProvider{
		baseURL:    u,
		jar:        jar,
		cookieName: DefaultCookieName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	if jar != nil && p.httpClient.Jar == nil {
		c := *p.httpClient
		c.Jar = jar
		p.httpClient = &c
	}
	return p, nil
}

// Token returns the cookie token if present, otherwise the token issued by
// the token endpoint.
func (p *CookieProvider) Token(ctx context.Context) (string, bool) {
	if token, ok := p.fromCookie(); ok {
		return token, true
	}
	return p.fromEndpoint(ctx)
}

func (p *CookieProvider) fromCookie() (string, bool) {
	if p.jar == nil {
		return "", false
	}
	for _, c := range p.jar.Cookies(p.baseURL) {
		if c.Name == p.cookieName && strings.TrimSpace(c.Value) != "" {
			return strings.TrimSpace(c.Value), true
		}
	}
	return "", false
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (p *CookieProvider) fromEndpoint(ctx context.Context) (string, bool) {
	endpoint := p.baseURL.JoinPath(TokenEndpoint).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		log.Debug().Err(err).Str("endpoint", endpoint).Msg("ws token request build failed")
		return "", false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("endpoint", endpoint).Msg("ws token request failed")
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxTokenResponseBytes))
		log.Debug().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("ws token endpoint returned non-2xx")
		return "", false
	}

	var out tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseBytes)).Decode(&out); err != nil {
		log.Debug().Err(err).Str("endpoint", endpoint).Msg("ws token response decode failed")
		return "", false
	}

	token := strings.TrimSpace(out.Token)
	return token, token != ""
}

var (
	_ Provider = (*CookieProvider)(nil)
	_ Provider = StaticProvider("")
	_ Provider = ProviderFunc(nil)
)
