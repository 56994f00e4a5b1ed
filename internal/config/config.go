// Package config loads framechat settings from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the port the client dials and the relay listens on.
const DefaultPort = 12347

// Config holds client and relay settings.
type Config struct {
	Server          string        `yaml:"server"`
	Port            int           `yaml:"port"`
	Transport       string        `yaml:"transport"`
	Nickname        string        `yaml:"nickname"`
	MaxPayloadBytes int64         `yaml:"max_payload_bytes"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	DownloadDir     string        `yaml:"download_dir"`
	Sink            string        `yaml:"sink"`
	SQLitePath      string        `yaml:"sqlite_path"`
	OutboxDir       string        `yaml:"outbox_dir"`
	LogLevel        string        `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:            DefaultPort,
		Transport:       "tcp",
		MaxPayloadBytes: 64 << 20,
		DialTimeout:     10 * time.Second,
		DownloadDir:     "downloads",
		Sink:            "dir",
		SQLitePath:      "framechat.db",
		LogLevel:        "info",
	}
}

// DefaultPath returns the default config file path: ~/.framechat/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".framechat", "config.yaml")
	}
	return filepath.Join(home, ".framechat", "config.yaml")
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns the defaults with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings shared by every command.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 1-65535", c.Port))
	}
	switch c.Transport {
	case "tcp", "ws":
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q (want tcp or ws)", c.Transport))
	}
	switch c.Sink {
	case "dir", "sqlite", "discard":
	default:
		errs = append(errs, fmt.Errorf("unknown sink %q (want dir, sqlite or discard)", c.Sink))
	}
	if c.MaxPayloadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_payload_bytes must be positive"))
	}
	if c.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("dial_timeout must be positive"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var hostnamePattern = regexp.MustCompile(`^(?i:[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)(\.(?i:[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?))*$`)

// ValidateServer checks that the server address is an IPv4 address or a
// host name.
func (c *Config) ValidateServer() error {
	host := strings.TrimSpace(c.Server)
	if host == "" {
		return fmt.Errorf("server address is required")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			return fmt.Errorf("server %q is not an IPv4 address", host)
		}
		return nil
	}
	if looksNumeric(host) {
		return fmt.Errorf("server %q is not a valid IPv4 address", host)
	}
	if len(host) > 253 || !hostnamePattern.MatchString(host) {
		return fmt.Errorf("server %q is not a valid host name", host)
	}
	return nil
}

// looksNumeric reports whether s is made of digits and dots only, like a
// mistyped dotted quad.
func looksNumeric(s string) bool {
	return strings.Trim(s, "0123456789.") == ""
}

// Address returns the dial target for the configured transport.
func (c *Config) Address() string {
	hostport := net.JoinHostPort(strings.TrimSpace(c.Server), fmt.Sprint(c.Port))
	if c.Transport == "ws" {
		return "ws://" + hostport + "/ws"
	}
	return hostport
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
