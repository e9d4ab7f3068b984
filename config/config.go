package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config carries all server settings, populated from environment variables.
type Config struct {
	// AuthListener is the address the login service binds to.
	AuthListener string `envconfig:"AUTH_LISTENER" default:"0.0.0.0:5190"`
	// BOSListener is the address the post-login messaging service binds to.
	BOSListener string `envconfig:"BOS_LISTENER" default:"0.0.0.0:5191"`
	// BOSAdvertisedHost is the host:port clients are told to reconnect to
	// after login. It must be reachable from the client's network, which is
	// not necessarily the bind address.
	BOSAdvertisedHost string `envconfig:"BOS_ADVERTISED_HOST" default:"127.0.0.1:5191"`
	// APIListener is the management API bind address. The default restricts
	// it to the local machine.
	APIListener string `envconfig:"API_LISTENER" default:"127.0.0.1:8080"`

	// DBPath is the SQLite database file path. File and schema are created
	// on first use.
	DBPath string `envconfig:"DB_PATH" default:"icq.sqlite"`

	// DisableAuth skips password checks and auto-creates unknown UINs at
	// login. Useful for development; never enable it on a public server.
	DisableAuth bool `envconfig:"DISABLE_AUTH" default:"false"`

	// AdminUser and AdminPass protect the management API with basic auth.
	// An empty AdminPass leaves the API open.
	AdminUser string `envconfig:"ADMIN_USER" default:"admin"`
	AdminPass string `envconfig:"ADMIN_PASS" default:""`

	// UINMin and UINMax bound the range used when the management API
	// auto-assigns a UIN to a new account.
	UINMin int `envconfig:"UIN_MIN" default:"100000"`
	UINMax int `envconfig:"UIN_MAX" default:"10000000"`

	// LogLevel sets logging granularity: debug, info, warn, or error.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// SlogLevel maps the configured log level to a slog level.
func (c Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.UINMax <= c.UINMin {
		return fmt.Errorf("UIN_MAX (%d) must be greater than UIN_MIN (%d)", c.UINMax, c.UINMin)
	}
	if c.BOSAdvertisedHost == "" {
		return fmt.Errorf("BOS_ADVERTISED_HOST must not be empty")
	}
	return nil
}
