// Package config handles uxwatch configuration from YAML files, the
// environment, or SQLite.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level uxwatch configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Session   SessionConfig   `yaml:"session"`
	Collector CollectorConfig `yaml:"collector"`
	Sinks     []SinkConfig    `yaml:"sinks"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote      string `yaml:"remote"`
	Bin         string `yaml:"bin"`
	Headless    bool   `yaml:"headless"`
	Stealth     bool   `yaml:"stealth"`
	XvfbDisplay string `yaml:"xvfb_display"`
	XvfbScreen  string `yaml:"xvfb_screen"`
}

// SessionConfig describes one recording session.
type SessionConfig struct {
	URL             string        `yaml:"url"`
	LogDir          string        `yaml:"log_dir"`
	Duration        time.Duration `yaml:"duration"` // 0 = until the browser closes
	PollInterval    time.Duration `yaml:"poll_interval"`
	ErrorBackoff    time.Duration `yaml:"error_backoff"`
	CompanionScript string        `yaml:"companion_script"`
}

// CollectorConfig controls in-page debouncing.
type CollectorConfig struct {
	ScrollDebounce time.Duration `yaml:"scroll_debounce"`
	HoverDebounce  time.Duration `yaml:"hover_debounce"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // file | stdout | jsonl | webhook
	URL  string `yaml:"url"`  // for webhook
}

// Sink types.
const (
	SinkFile    = "file"
	SinkStdout  = "stdout"
	SinkJSONL   = "jsonl"
	SinkWebhook = "webhook"
)

// Environment overrides.
const (
	EnvRemote    = "UXWATCH_REMOTE"
	EnvHeadless  = "UXWATCH_HEADLESS"
	EnvLogDir    = "UXWATCH_LOG_DIR"
	EnvCompanion = "UXWATCH_COMPANION"
)

// ErrUnsupportedScheme is returned for URLs a session cannot be pointed at.
var ErrUnsupportedScheme = errors.New("config: URL scheme must be http, https, about or file")

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Session.LogDir == "" {
		c.Session.LogDir = "logs"
	}
	if c.Session.PollInterval <= 0 {
		c.Session.PollInterval = 500 * time.Millisecond
	}
	if c.Session.ErrorBackoff <= 0 {
		c.Session.ErrorBackoff = time.Second
	}
	if c.Session.CompanionScript == "" {
		c.Session.CompanionScript = "intention-buttons.js"
	}
	if c.Collector.ScrollDebounce <= 0 {
		c.Collector.ScrollDebounce = 100 * time.Millisecond
	}
	if c.Collector.HoverDebounce <= 0 {
		c.Collector.HoverDebounce = 500 * time.Millisecond
	}
	for i := range c.Sinks {
		c.Sinks[i].Type = strings.ToLower(strings.TrimSpace(c.Sinks[i].Type))
	}
}

// ApplyEnv overlays UXWATCH_* variables read through getenv (os.Getenv when
// nil).
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvRemote); v != "" {
		c.Browser.Remote = v
	}
	if v := getenv(EnvHeadless); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvHeadless, err)
		}
		c.Browser.Headless = b
	}
	if v := getenv(EnvLogDir); v != "" {
		c.Session.LogDir = v
	}
	if v := getenv(EnvCompanion); v != "" {
		c.Session.CompanionScript = v
	}
	return nil
}

// Validate checks the session URL and sink definitions.
func (c *Config) Validate() error {
	if err := ValidateURL(c.Session.URL); err != nil {
		return err
	}
	if c.Session.Duration < 0 {
		return fmt.Errorf("config: negative session duration %v", c.Session.Duration)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case SinkFile, SinkStdout, SinkJSONL:
		case SinkWebhook:
			if err := validateWebhookURL(s.URL); err != nil {
				return fmt.Errorf("config: sinks[%d]: %w", i, err)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}

// validateWebhookURL accepts only http and https URLs with a host: a webhook
// is POSTed to, so about: and file: are rejected.
func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: invalid webhook URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w for webhook: %q", ErrUnsupportedScheme, raw)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("config: webhook URL %q has no host", raw)
	}
	return nil
}

// ValidateURL accepts http and https URLs with a host, plus about: and file:
// URLs for local recordings. Loopback and private hosts are allowed: local
// development servers are a normal recording target.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("config: empty URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Hostname() == "" {
			return fmt.Errorf("config: URL %q has no host", raw)
		}
		return nil
	case "about", "file":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, raw)
	}
}
