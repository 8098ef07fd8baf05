// Package config loads vestio settings from the environment.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds client settings. Command-line flags override these values.
type Config struct {
	APIURL        string        `env:"VESTIO_API_URL" envDefault:"http://localhost:3000/api"`
	DataDir       string        `env:"VESTIO_DATA_DIR" envDefault:"~/.vestio"`
	SessionKey    string        `env:"VESTIO_SESSION_KEY"`
	LogFormat     string        `env:"VESTIO_LOG_FORMAT" envDefault:"text"`
	LogLevel      string        `env:"VESTIO_LOG_LEVEL" envDefault:"warn"`
	HTTPTimeout   time.Duration `env:"VESTIO_HTTP_TIMEOUT" envDefault:"15s"`
	ProfileStale  time.Duration `env:"VESTIO_PROFILE_STALE" envDefault:"5m"`
	LogoutTimeout time.Duration `env:"VESTIO_LOGOUT_TIMEOUT" envDefault:"5s"`
}

// Load parses the environment into a Config and expands a leading ~ in
// DataDir.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	dir, err := ExpandHome(cfg.DataDir)
	if err != nil {
		return Config{}, err
	}
	cfg.DataDir = dir
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges env tags cannot express.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("VESTIO_API_URL is required")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("VESTIO_LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("VESTIO_HTTP_TIMEOUT must be positive")
	}
	if c.ProfileStale < 0 {
		return fmt.Errorf("VESTIO_PROFILE_STALE must not be negative")
	}
	if c.LogoutTimeout <= 0 {
		return fmt.Errorf("VESTIO_LOGOUT_TIMEOUT must be positive")
	}
	if c.SessionKey != "" {
		if _, err := c.SessionKeyBytes(); err != nil {
			return err
		}
	}
	return nil
}

// minSessionKeyBytes is the shortest accepted VESTIO_SESSION_KEY after decoding.
const minSessionKeyBytes = 16

// SessionKeyBytes decodes the hex VESTIO_SESSION_KEY. It returns nil when the
// key is unset.
func (c Config) SessionKeyBytes() ([]byte, error) {
	if c.SessionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(strings.TrimSpace(c.SessionKey))
	if err != nil {
		return nil, fmt.Errorf("VESTIO_SESSION_KEY must be hex: %w", err)
	}
	if len(key) < minSessionKeyBytes {
		return nil, fmt.Errorf("VESTIO_SESSION_KEY must decode to at least %d bytes", minSessionKeyBytes)
	}
	return key, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Server holds settings for the bundled authority.
type Server struct {
	Listen          string        `env:"VESTIO_LISTEN" envDefault:":3000"`
	DataDir         string        `env:"VESTIO_SERVER_DATA_DIR" envDefault:"./data"`
	Secret          string        `env:"VESTIO_SERVER_SECRET"`
	TrustedProxies  []string      `env:"VESTIO_TRUSTED_PROXIES" envSeparator:","`
	AuditWebhookURL string        `env:"VESTIO_AUDIT_WEBHOOK_URL"`
	AuditWebhookKey string        `env:"VESTIO_AUDIT_WEBHOOK_AUTH"`
	LogFormat       string        `env:"VESTIO_LOG_FORMAT" envDefault:"json"`
	LogLevel        string        `env:"VESTIO_LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"VESTIO_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LoadServer parses the environment into a Server.
func LoadServer() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	dir, err := ExpandHome(cfg.DataDir)
	if err != nil {
		return Server{}, err
	}
	cfg.DataDir = dir
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks value ranges env tags cannot express.
func (c Server) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("VESTIO_LISTEN is required")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("VESTIO_LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.Secret != "" && len(c.Secret) < 16 {
		return fmt.Errorf("VESTIO_SERVER_SECRET must be at least 16 characters")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("VESTIO_SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}
