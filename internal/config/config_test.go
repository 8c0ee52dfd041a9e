package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianly1003/docsync/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %s, want %s", cfg.Server.BaseURL, DefaultBaseURL)
	}
	if cfg.Server.WSURL != "ws://127.0.0.1:8080" {
		t.Errorf("WSURL = %s, want derived ws://127.0.0.1:8080", cfg.Server.WSURL)
	}
	if cfg.Server.CookieName != "ws_token" {
		t.Errorf("CookieName = %s, want ws_token", cfg.Server.CookieName)
	}

	p := cfg.NotificationPolicy()
	if p.Base != time.Second || p.Max != 30*time.Second || p.MaxAttempts != 5 {
		t.Errorf("NotificationPolicy() = %+v", p)
	}
	if cfg.HandshakeTimeout() != 10*time.Second {
		t.Errorf("HandshakeTimeout() = %v", cfg.HandshakeTimeout())
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if len(cfg.Watcher.IgnorePatterns) == 0 {
		t.Error("default ignore patterns missing")
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: "https://files.example.com/"
  document_path: "collab/"
  token: " abc "
notifications:
  base_delay_ms: 250
  max_delay_ms: 4000
  max_attempts: 8
transport:
  handshake_timeout_ms: 2000
  reconnect_max_attempts: 3
watcher:
  debounce_ms: 50
logging:
  level: DEBUG
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source != path {
		t.Errorf("Source = %s, want %s", cfg.Source, path)
	}
	if cfg.Server.BaseURL != "https://files.example.com" {
		t.Errorf("BaseURL = %s", cfg.Server.BaseURL)
	}
	if cfg.Server.WSURL != "wss://files.example.com" {
		t.Errorf("WSURL = %s", cfg.Server.WSURL)
	}
	if got := cfg.DocumentWSURL(); got != "wss://files.example.com/collab" {
		t.Errorf("DocumentWSURL() = %s", got)
	}
	if cfg.Server.Token != "abc" {
		t.Errorf("Token = %q, want abc", cfg.Server.Token)
	}
	p := cfg.NotificationPolicy()
	if p.Base != 250*time.Millisecond || p.Max != 4*time.Second || p.MaxAttempts != 8 {
		t.Errorf("NotificationPolicy() = %+v", p)
	}
	if tp := cfg.TransportPolicy(); tp.MaxAttempts != 3 {
		t.Errorf("TransportPolicy() = %+v", tp)
	}
	if cfg.WatcherDebounce() != 50*time.Millisecond {
		t.Errorf("WatcherDebounce() = %v", cfg.WatcherDebounce())
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %s, want debug", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DOCSYNC_SERVER_TOKEN", "from-env")
	t.Setenv("DOCSYNC_SERVER_WS_URL", "ws://realtime.example.com/")

	cfg, err := Load(writeConfig(t, "server:\n  token: from-file\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Token != "from-env" {
		t.Errorf("Token = %s, want from-env", cfg.Server.Token)
	}
	if cfg.Server.WSURL != "ws://realtime.example.com" {
		t.Errorf("WSURL = %s", cfg.Server.WSURL)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(writeConfig(t, "server: [unterminated")); err == nil {
		t.Error("Load() accepted malformed yaml")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() accepted a missing explicit config file")
	}

	_, err := Load(writeConfig(t, "logging:\n  level: loud\n"))
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "logging.level" {
		t.Errorf("Load() error = %v, want logging.level validation error", err)
	}
}

func TestDeriveWSURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:8080", "ws://localhost:8080", false},
		{"https://files.example.com/api/", "wss://files.example.com/api", false},
		{"ftp://files.example.com", "", true},
	}
	for _, tt := range tests {
		got, err := DeriveWSURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("DeriveWSURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("DeriveWSURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate(Defaults()) error = %v", err)
	}
	if cfg.Notifications.MaxAttempts != DefaultNotificationMaxAttempts {
		t.Errorf("MaxAttempts = %d", cfg.Notifications.MaxAttempts)
	}
	if paths := SearchPaths(); len(paths) < 2 || paths[0] != "./config.yaml" {
		t.Errorf("SearchPaths() = %v", paths)
	}
}
