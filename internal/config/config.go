package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Tail   TailConfig   `yaml:"tail"`
	Relay  RelayConfig  `yaml:"relay"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig locates the WHM server and the credentials for it.
type ServerConfig struct {
	URL                string        `yaml:"url"`
	User               string        `yaml:"user"`
	Token              string        `yaml:"token"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout"`
}

type TailConfig struct {
	Path             string        `yaml:"path"`
	SystemID         string        `yaml:"system_id"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxRequestErrors int           `yaml:"max_request_errors"`
	MaxLogErrors     int           `yaml:"max_log_errors"`
}

type RelayConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	AuthToken         string        `yaml:"auth_token"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	History           int           `yaml:"history"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Timeout: 30 * time.Second,
		},
		Tail: TailConfig{
			Path:             "/cgi/live_tail_log.cgi",
			SystemID:         "transfer",
			PollInterval:     250 * time.Millisecond,
			MaxRequestErrors: 10,
			MaxLogErrors:     150,
		},
		Relay: RelayConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,
			History:           500,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads path, expands ${VAR} references and decodes it over the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings every command relies on. Server settings
// are checked separately by ValidateServer since the mock and console
// commands do not talk to a WHM server.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Tail.Path == "" {
		add("tail.path", "must not be empty")
	}
	if c.Tail.PollInterval <= 0 {
		add("tail.poll_interval", "must be positive, got %s", c.Tail.PollInterval)
	}
	if c.Tail.MaxRequestErrors <= 0 {
		add("tail.max_request_errors", "must be positive, got %d", c.Tail.MaxRequestErrors)
	}
	if c.Tail.MaxLogErrors <= 0 {
		add("tail.max_log_errors", "must be positive, got %d", c.Tail.MaxLogErrors)
	}
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		add("relay.port", "out of range: %d", c.Relay.Port)
	}
	if c.Relay.History < 0 {
		add("relay.history", "must not be negative")
	}
	if c.Relay.BroadcastThrottle < 0 {
		add("relay.broadcast_throttle", "must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		add("log.level", "must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		add("log.format", "must be console or json, got %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

// ValidateServer checks the WHM connection settings.
func (c *Config) ValidateServer() error {
	var errs []error
	u, err := url.Parse(c.Server.URL)
	switch {
	case c.Server.URL == "":
		errs = append(errs, &ValidationError{Field: "server.url", Message: "is required"})
	case err != nil || u.Scheme == "" || u.Host == "":
		errs = append(errs, &ValidationError{Field: "server.url", Message: fmt.Sprintf("not an absolute URL: %q", c.Server.URL)})
	}
	if c.Server.User == "" {
		errs = append(errs, &ValidationError{Field: "server.user", Message: "is required"})
	}
	if c.Server.Token == "" {
		errs = append(errs, &ValidationError{Field: "server.token", Message: "is required"})
	}
	return errors.Join(errs...)
}

// Addr is the relay listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Relay.Host, c.Relay.Port)
}
