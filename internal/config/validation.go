package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/brianly1003/docsync/internal/domain"
)

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}
	if err := validateNotifications(&cfg.Notifications); err != nil {
		return err
	}
	if err := validateTransport(&cfg.Transport); err != nil {
		return err
	}
	if err := validateWatcher(&cfg.Watcher); err != nil {
		return err
	}
	return validateLogging(&cfg.Logging)
}

func validateServer(cfg *ServerConfig) error {
	if cfg.BaseURL == "" {
		return domain.NewValidationError("server.base_url", "cannot be empty")
	}
	if err := validateURL(cfg.BaseURL, "server.base_url", []string{"http", "https"}); err != nil {
		return err
	}
	if err := validateURL(cfg.WSURL, "server.ws_url", []string{"ws", "wss"}); err != nil {
		return err
	}
	if cfg.CookieName == "" {
		return domain.NewValidationError("server.cookie_name", "cannot be empty")
	}
	return nil
}

// validateURL checks that rawURL is well-formed and uses an allowed scheme.
func validateURL(rawURL, fieldName string, allowedSchemes []string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return domain.NewValidationError(fieldName, fmt.Sprintf("not a valid URL: %v", err))
	}
	if parsed.Host == "" {
		return domain.NewValidationError(fieldName, "must include a host")
	}
	for _, scheme := range allowedSchemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			return nil
		}
	}
	return domain.NewValidationError(fieldName, "must use one of these schemes: "+strings.Join(allowedSchemes, ", "))
}

func validateNotifications(cfg *NotificationsConfig) error {
	return validateBackoff("notifications.", cfg.BaseDelayMS, cfg.MaxDelayMS, cfg.MaxAttempts)
}

func validateTransport(cfg *TransportConfig) error {
	if cfg.HandshakeTimeoutMS < 100 {
		return domain.NewValidationError("transport.handshake_timeout_ms", "must be at least 100")
	}
	return validateBackoff("transport.reconnect_", cfg.ReconnectBaseDelayMS, cfg.ReconnectMaxDelayMS, cfg.ReconnectMaxAttempts)
}

func validateBackoff(prefix string, baseMS, maxMS, attempts int) error {
	if baseMS < 1 {
		return domain.NewValidationError(prefix+"base_delay_ms", "must be at least 1")
	}
	if maxMS < baseMS {
		return domain.NewValidationError(prefix+"max_delay_ms", "cannot be less than the base delay")
	}
	if attempts < 1 {
		return domain.NewValidationError(prefix+"max_attempts", "must be at least 1")
	}
	return nil
}

func validateWatcher(cfg *WatcherConfig) error {
	if cfg.DebounceMS < 0 {
		return domain.NewValidationError("watcher.debounce_ms", "cannot be negative")
	}
	if cfg.DebounceMS > 10000 {
		return domain.NewValidationError("watcher.debounce_ms", "cannot exceed 10000ms")
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	if !contains(ValidLogLevels, cfg.Level) {
		return domain.NewValidationError("logging.level", "must be one of: "+strings.Join(ValidLogLevels, ", "))
	}
	if !contains(ValidLogFormats, cfg.Format) {
		return domain.NewValidationError("logging.format", "must be one of: "+strings.Join(ValidLogFormats, ", "))
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
