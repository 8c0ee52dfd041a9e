// Package config handles configuration management for docsync.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brianly1003/docsync/internal/backoff"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DOCSYNC_SERVER_TOKEN.
const EnvPrefix = "DOCSYNC"

// Config holds all configuration for the application.
type Config struct {
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Transport     TransportConfig     `mapstructure:"transport" yaml:"transport"`
	Watcher       WatcherConfig       `mapstructure:"watcher" yaml:"watcher"`
	Logging       LoggingConfig       `mapstructure:"logging" yaml:"logging"`

	// Source is the config file that was read, if any.
	Source string `mapstructure:"-" yaml:"-"`
}

// ServerConfig locates the file service.
type ServerConfig struct {
	BaseURL      string `mapstructure:"base_url" yaml:"base_url"`
	WSURL        string `mapstructure:"ws_url" yaml:"ws_url"`               // Optional: derived from base_url when empty
	DocumentPath string `mapstructure:"document_path" yaml:"document_path"` // Prefix of document sockets under ws_url
	Token        string `mapstructure:"token" yaml:"token"`
	CookieName   string `mapstructure:"cookie_name" yaml:"cookie_name"`
}

// NotificationsConfig tunes the notification channel reconnect.
type NotificationsConfig struct {
	BaseDelayMS int `mapstructure:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMS  int `mapstructure:"max_delay_ms" yaml:"max_delay_ms"`
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// TransportConfig tunes document transports.
type TransportConfig struct {
	HandshakeTimeoutMS   int `mapstructure:"handshake_timeout_ms" yaml:"handshake_timeout_ms"`
	ReconnectBaseDelayMS int `mapstructure:"reconnect_base_delay_ms" yaml:"reconnect_base_delay_ms"`
	ReconnectMaxDelayMS  int `mapstructure:"reconnect_max_delay_ms" yaml:"reconnect_max_delay_ms"`
	ReconnectMaxAttempts int `mapstructure:"reconnect_max_attempts" yaml:"reconnect_max_attempts"`
}

// WatcherConfig holds local file watcher configuration.
type WatcherConfig struct {
	DebounceMS     int      `mapstructure:"debounce_ms" yaml:"debounce_ms"`
	IgnorePatterns []string `mapstructure:"ignore_patterns" yaml:"ignore_patterns"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.docsync")
		v.AddConfigPath("/etc/docsync")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.Source = v.ConfigFileUsed()

	if err := postProcess(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.base_url", DefaultBaseURL)
	v.SetDefault("server.ws_url", "")
	v.SetDefault("server.document_path", "")
	v.SetDefault("server.token", "")
	v.SetDefault("server.cookie_name", DefaultCookieName)

	v.SetDefault("notifications.base_delay_ms", DefaultNotificationBaseDelayMS)
	v.SetDefault("notifications.max_delay_ms", DefaultNotificationMaxDelayMS)
	v.SetDefault("notifications.max_attempts", DefaultNotificationMaxAttempts)

	v.SetDefault("transport.handshake_timeout_ms", DefaultHandshakeTimeoutMS)
	v.SetDefault("transport.reconnect_base_delay_ms", DefaultNotificationBaseDelayMS)
	v.SetDefault("transport.reconnect_max_delay_ms", DefaultNotificationMaxDelayMS)
	v.SetDefault("transport.reconnect_max_attempts", DefaultTransportMaxAttempts)

	v.SetDefault("watcher.debounce_ms", DefaultWatcherDebounceMS)
	v.SetDefault("watcher.ignore_patterns", DefaultWatcherIgnorePatterns)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// postProcess derives the websocket URL and trims user input.
func postProcess(cfg *Config) error {
	cfg.Server.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Server.BaseURL), "/")
	cfg.Server.WSURL = strings.TrimRight(strings.TrimSpace(cfg.Server.WSURL), "/")
	cfg.Server.Token = strings.TrimSpace(cfg.Server.Token)

	if p := strings.Trim(strings.TrimSpace(cfg.Server.DocumentPath), "/"); p != "" {
		cfg.Server.DocumentPath = "/" + p
	} else {
		cfg.Server.DocumentPath = ""
	}

	if cfg.Server.WSURL == "" && cfg.Server.BaseURL != "" {
		ws, err := DeriveWSURL(cfg.Server.BaseURL)
		if err != nil {
			return fmt.Errorf("failed to derive server.ws_url: %w", err)
		}
		cfg.Server.WSURL = ws
	}

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	return nil
}

// DeriveWSURL maps http(s)://host/path onto ws(s)://host/path.
func DeriveWSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// DocumentWSURL is the base every document socket is dialed under.
func (c *Config) DocumentWSURL() string {
	return c.Server.WSURL + c.Server.DocumentPath
}

// NotificationPolicy is the notification channel reconnect policy.
func (c *Config) NotificationPolicy() backoff.Policy {
	return backoff.Policy{
		Base:        time.Duration(c.Notifications.BaseDelayMS) * time.Millisecond,
		Max:         time.Duration(c.Notifications.MaxDelayMS) * time.Millisecond,
		MaxAttempts: c.Notifications.MaxAttempts,
	}
}

// TransportPolicy is the document transport reconnect policy.
func (c *Config) TransportPolicy() backoff.Policy {
	return backoff.Policy{
		Base:        time.Duration(c.Transport.ReconnectBaseDelayMS) * time.Millisecond,
		Max:         time.Duration(c.Transport.ReconnectMaxDelayMS) * time.Millisecond,
		MaxAttempts: c.Transport.ReconnectMaxAttempts,
	}
}

// HandshakeTimeout is the websocket handshake timeout.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Transport.HandshakeTimeoutMS) * time.Millisecond
}

// WatcherDebounce is the local watcher quiet window.
func (c *Config) WatcherDebounce() time.Duration {
	return time.Duration(c.Watcher.DebounceMS) * time.Millisecond
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	_ = postProcess(&cfg)
	return &cfg
}

// GetConfigDir returns the per-user config directory (~/.docsync).
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".docsync"), nil
}

// EnsureConfigDir creates the per-user config directory if needed.
func EnsureConfigDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// SearchPaths lists the config files Load looks for, in order.
func SearchPaths() []string {
	paths := []string{"./config.yaml"}
	if dir, err := GetConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "config.yaml"))
	}
	return append(paths, "/etc/docsync/config.yaml")
}
