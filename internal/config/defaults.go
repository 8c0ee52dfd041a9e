// Package config provides centralized default configuration values.
package config

// Default values applied when neither a config file nor the environment sets
// a key.
const (
	DefaultBaseURL    = "http://127.0.0.1:8080"
	DefaultCookieName = "ws_token"

	DefaultNotificationBaseDelayMS = 1000
	DefaultNotificationMaxDelayMS  = 30000
	DefaultNotificationMaxAttempts = 5

	DefaultHandshakeTimeoutMS   = 10000
	DefaultTransportMaxAttempts = 10

	DefaultWatcherDebounceMS = 200
)

// DefaultWatcherIgnorePatterns lists files and directories `push --watch`
// never uploads. Patterns match any path component.
var DefaultWatcherIgnorePatterns = []string{
	".git",
	".svn",
	".hg",
	".docsync",
	"node_modules",
	".DS_Store",
	"Thumbs.db",
	"*.swp",
	"*.swo",
	"*~",
	"*.tmp",
	".#*",
}

// ValidLogLevels are the accepted logging.level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error"}

// ValidLogFormats are the accepted logging.format values.
var ValidLogFormats = []string{"console", "json"}
