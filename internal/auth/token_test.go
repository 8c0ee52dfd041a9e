package auth

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"testing"
	"time"

	"github.com/brianly1003/docsync/internal/testutil"
)

func newJar(t *testing.T, rawURL, name, value string) http.CookieJar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error = %v", err)
	}
	u, _ := url.Parse(rawURL)
	jar.SetCookies(u, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
	return jar
}

func TestCookieProvider_PrefersCookie(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	b.SetToken("from-endpoint", http.StatusOK)

	p, err := NewCookieProvider(b.URL(), newJar(t, b.URL(), DefaultCookieName, "from-cookie"))
	if err != nil {
		t.Fatalf("NewCookieProvider() error = %v", err)
	}

	token, ok := p.Token(context.Background())
	if !ok || token != "from-cookie" {
		t.Errorf("Token() = (%q, %v), want (from-cookie, true)", token, ok)
	}
	if b.TokenCalls() != 0 {
		t.Errorf("token endpoint called %d times, want 0", b.TokenCalls())
	}
}

func TestCookieProvider_FallsBackToEndpoint(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	b.SetToken("from-endpoint", http.StatusOK)

	p, err := NewCookieProvider(b.URL(), newJar(t, b.URL(), "other_cookie", "x"))
	if err != nil {
		t.Fatalf("NewCookieProvider() error = %v", err)
	}

	token, ok := p.Token(context.Background())
	if !ok || token != "from-endpoint" {
		t.Errorf("Token() = (%q, %v), want (from-endpoint, true)", token, ok)
	}
}

func TestCookieProvider_NoCaching(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	b.SetToken("t1", http.StatusOK)

	p, _ := NewCookieProvider(b.URL(), nil)
	_, _ = p.Token(context.Background())
	b.SetToken("t2", http.StatusOK)
	token, _ := p.Token(context.Background())

	if token != "t2" {
		t.Errorf("second Token() = %q, want t2", token)
	}
	if b.TokenCalls() != 2 {
		t.Errorf("TokenCalls() = %d, want 2", b.TokenCalls())
	}
}

func TestCookieProvider_JarKeepsEndpointCookie(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	b.SetToken("issued", http.StatusOK)
	b.SetTokenCookie(DefaultCookieName)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error = %v", err)
	}
	p, err := NewCookieProvider(b.URL(), jar)
	if err != nil {
		t.Fatalf("NewCookieProvider() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		token, ok := p.Token(context.Background())
		if !ok || token != "issued" {
			t.Fatalf("Token() #%d = (%q, %v), want (issued, true)", i+1, token, ok)
		}
	}
	if b.TokenCalls() != 1 {
		t.Errorf("TokenCalls() = %d, want 1 once the jar holds the cookie", b.TokenCalls())
	}
}

func TestCookieProvider_CustomCookieName(t *testing.T) {
	b := testutil.NewFakeBackend(t)

	p, _ := NewCookieProvider(b.URL(), newJar(t, b.URL(), "session_rt", "custom"), WithCookieName("session_rt"))
	token, ok := p.Token(context.Background())
	if !ok || token != "custom" {
		t.Errorf("Token() = (%q, %v), want (custom, true)", token, ok)
	}
}

func TestCookieProvider_Failures(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		status int
	}{
		{name: "non-2xx", token: "ignored", status: http.StatusUnauthorized},
		{name: "server error", token: "ignored", status: http.StatusInternalServerError},
		{name: "empty token", token: "", status: http.StatusOK},
		{name: "blank token", token: "   ", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testutil.NewFakeBackend(t)
			b.SetToken(tt.token, tt.status)

			p, _ := NewCookieProvider(b.URL(), nil)
			token, ok := p.Token(context.Background())
			if ok || token != "" {
				t.Errorf("Token() = (%q, %v), want (\"\", false)", token, ok)
			}
		})
	}
}

func TestCookieProvider_NetworkError(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	base := b.URL()
	b.Close()

	p, _ := NewCookieProvider(base, nil, WithHTTPClient(&http.Client{Timeout: time.Second}))
	token, ok := p.Token(context.Background())
	if ok || token != "" {
		t.Errorf("Token() = (%q, %v), want (\"\", false)", token, ok)
	}
}

func TestStaticProvider(t *testing.T) {
	if token, ok := StaticProvider(" abc ").Token(context.Background()); !ok || token != "abc" {
		t.Errorf("Token() = (%q, %v), want (abc, true)", token, ok)
	}
	if _, ok := StaticProvider("").Token(context.Background()); ok {
		t.Error("empty StaticProvider reported a token")
	}
}
