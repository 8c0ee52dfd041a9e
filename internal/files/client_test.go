package files

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/brianly1003/docsync/internal/auth"
	"github.com/brianly1003/docsync/internal/backoff"
	"github.com/brianly1003/docsync/internal/domain"
	"github.com/brianly1003/docsync/internal/testutil"
)

func newTestClient(t *testing.T, b *testutil.FakeBackend, tokens auth.Provider) *Client {
	t.Helper()
	c, err := NewClient(ClientOptions{
		BaseURL: b.URL(),
		Tokens:  tokens,
		Retry:   backoff.Policy{Base: time.Millisecond, Max: 5 * time.Millisecond, MaxAttempts: 3},
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestNewClient_Validation(t *testing.T) {
	for _, base := range []string{"", "ws://files.test", "::bad"} {
		_, err := NewClient(ClientOptions{BaseURL: base})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("NewClient(%q) error = %v, want ValidationError", base, err)
		}
	}
}

func TestClient_ReadWrite(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	c := newTestClient(t, b, auth.StaticProvider("tok"))
	ctx := context.Background()

	res, err := c.Write(ctx, `docs\notes.md`, "hello", "")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Path != "/docs/notes.md" || res.Size != 5 {
		t.Errorf("Write() = %+v", res)
	}
	if got, ok := b.File("/docs/notes.md"); !ok || got != "hello" {
		t.Errorf("backend file = %q, %v", got, ok)
	}

	f, err := c.Read(ctx, "/docs//notes.md")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if f.Content != "hello" || f.Path != "/docs/notes.md" {
		t.Errorf("Read() = %+v", f)
	}

	for _, h := range b.AuthHeaders() {
		if h != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", h)
		}
	}
}

func TestClient_NoTokenSendsNoAuthorization(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	c := newTestClient(t, b, nil)
	b.PutFile("/a", "x")

	if _, err := c.Read(context.Background(), "/a"); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := b.AuthHeaders(); len(got) != 1 || got[0] != "" {
		t.Errorf("AuthHeaders() = %v, want one empty header", got)
	}
}

func TestClient_NotFound(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	c := newTestClient(t, b, nil)

	_, err := c.Read(context.Background(), "/missing")
	if !IsNotFound(err) {
		t.Fatalf("Read() error = %v, want not found", err)
	}
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.Code != domain.ErrCodeNotFound || herr.StatusCode != http.StatusNotFound {
		t.Errorf("error = %#v", err)
	}
	if err := c.Delete(context.Background(), "/missing"); !IsNotFound(err) {
		t.Errorf("Delete() error = %v, want not found", err)
	}
}

func TestClient_ErrorCodesMapToSentinels(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	ctx := context.Background()
	b.PutFile("/a.md", "a")
	b.PutFile("/b.md", "b")

	c := newTestClient(t, b, auth.StaticProvider("good"))
	if _, err := c.Rename(ctx, "/a.md", "/b.md"); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Rename() onto existing file error = %v, want ErrConflict", err)
	}
	if _, err := c.Mkdir(ctx, "/"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Mkdir(root) error = %v, want ErrInvalidInput", err)
	}

	b.RequireToken("good")
	if _, err := c.Read(ctx, "/a.md"); err != nil {
		t.Errorf("Read() with the right token error = %v", err)
	}
	bad := newTestClient(t, b, auth.StaticProvider("bad"))
	_, err := bad.Read(ctx, "/a.md")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("Read() with a bad token error = %v, want ErrUnauthorized", err)
	}
	if IsNotFound(err) {
		t.Error("unauthorized error also matched ErrNotFound")
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	c := newTestClient(t, b, nil)
	b.PutFile("/a", "x")
	b.FailNext(2)

	if _, err := c.Read(context.Background(), "/a"); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n := len(b.AuthHeaders()); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	c := newTestClient(t, b, nil)
	b.FailNext(10)

	_, err := c.Read(context.Background(), "/a")
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Read() error = %v, want 503", err)
	}
	if n := len(b.AuthHeaders()); n != 4 {
		t.Errorf("requests = %d, want 4", n)
	}
}

func TestClient_RetryHonorsContext(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	c, err := NewClient(ClientOptions{
		BaseURL: b.URL(),
		Retry:   backoff.Policy{Base: time.Second, Max: time.Second, MaxAttempts: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	b.FailNext(10)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Read(ctx, "/a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Read() error = %v, want deadline exceeded", err)
	}
}

func TestClient_TreeAndMutations(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	c := newTestClient(t, b, nil)
	ctx := context.Background()
	b.PutFile("/docs/a.txt", "aa")
	b.PutFile("/docs/b.txt", "b")
	b.PutFile("/other/c.txt", "c")

	tree, err := c.Tree(ctx, "docs/", 1)
	if err != nil {
		t.Fatalf("Tree() error = %v", err)
	}
	if tree.Path != "/docs" || len(tree.Entries) != 2 {
		t.Fatalf("Tree() = %+v", tree)
	}
	if e := tree.Entries[0]; e.Name != "a.txt" || e.Size != 2 || e.IsDir() {
		t.Errorf("entry = %+v", e)
	}

	dir, err := c.Mkdir(ctx, "/archive/")
	if err != nil || !dir.IsDir() || dir.Path != "/archive" {
		t.Errorf("Mkdir() = %+v, %v", dir, err)
	}

	moved, err := c.Rename(ctx, "/docs/a.txt", "/docs/renamed.txt")
	if err != nil || moved.Path != "/docs/renamed.txt" {
		t.Errorf("Rename() = %+v, %v", moved, err)
	}
	if _, ok := b.File("/docs/a.txt"); ok {
		t.Error("old path still present")
	}

	results, err := c.BulkMove(ctx, []string{"/docs/b.txt", "/nope"}, "/archive")
	if err != nil {
		t.Fatalf("BulkMove() error = %v", err)
	}
	if len(results) != 2 || !results[0].OK() || results[1].OK() {
		t.Errorf("BulkMove() = %+v", results)
	}
	if _, ok := b.File("/archive/b.txt"); !ok {
		t.Error("moved file missing")
	}

	results, err = c.BulkDelete(ctx, []string{"archive/b.txt", "/other/c.txt"})
	if err != nil {
		t.Fatalf("BulkDelete() error = %v", err)
	}
	for _, r := range results {
		if !r.OK() {
			t.Errorf("BulkDelete result = %+v", r)
		}
	}

	if err := c.Delete(ctx, "/docs/renamed.txt"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestClient_Share(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	c := newTestClient(t, b, nil)
	ctx := context.Background()

	link, err := c.Share(ctx, "docs/a.txt", ShareRequest{})
	if err != nil {
		t.Fatalf("Share() error = %v", err)
	}
	if link.URL != b.URL()+"/s/docs/a.txt" || link.Permission != PermissionView {
		t.Errorf("Share() = %+v", link)
	}

	png, err := link.QRCode(128)
	if err != nil {
		t.Fatalf("QRCode() error = %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("QRCode() did not return a PNG")
	}
	art, err := link.TerminalQR()
	if err != nil || strings.TrimSpace(art) == "" {
		t.Errorf("TerminalQR() = %q, %v", art, err)
	}

	var verr *domain.ValidationError
	if _, err := c.Share(ctx, "/a", ShareRequest{Permission: "owner"}); !errors.As(err, &verr) {
		t.Errorf("Share(owner) error = %v, want ValidationError", err)
	}
	if _, err := (ShareLink{}).QRCode(64); err == nil {
		t.Error("QRCode() on empty link succeeded")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"2", 2 * time.Second},
		{"-1", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.header); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
