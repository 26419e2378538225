// Package config loads the docpeek configuration: a YAML file with
// defaults, overridden by DOCPEEK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docpeek/shield"
)

// Config is the top-level docpeek configuration.
type Config struct {
	// Listen is the surface server address.
	Listen string `yaml:"listen"`
	// PublicURL is how the browser reaches the surface server.
	// Default: http://<Listen>.
	PublicURL string `yaml:"public_url"`
	// StartURL is opened in the browser at startup.
	StartURL string `yaml:"start_url"`
	LogLevel string `yaml:"log_level"` // debug | info | warn | error

	Browser  BrowserConfig  `yaml:"browser"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Render   RenderConfig   `yaml:"render"`
	Sessions SessionsConfig `yaml:"sessions"`
	History  HistoryConfig  `yaml:"history"`
	MCP      MCPConfig      `yaml:"mcp"`

	RateLimits []shield.RateLimitRule `yaml:"rate_limits"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	// Disabled runs the HTTP surfaces, API and MCP tools without a browser.
	Disabled    bool   `yaml:"disabled"`
	Remote      string `yaml:"remote"`
	Bin         string `yaml:"bin"`
	Headless    bool   `yaml:"headless"`
	UserDataDir string `yaml:"user_data_dir"`
	Xvfb        bool   `yaml:"xvfb"`
	XvfbDisplay string `yaml:"xvfb_display"`
	Stealth     bool   `yaml:"stealth"`
}

// FetchConfig controls document retrieval.
type FetchConfig struct {
	MaxBytes int64         `yaml:"max_bytes"`
	Timeout  time.Duration `yaml:"timeout"`
	// BlockPrivate refuses documents on loopback and private networks.
	BlockPrivate bool `yaml:"block_private"`
}

// RenderConfig controls rendering.
type RenderConfig struct {
	MaxRows int `yaml:"max_rows"`
}

// SessionsConfig controls viewer sessions.
type SessionsConfig struct {
	IdleTTL time.Duration `yaml:"idle_ttl"`
	// DispatchTimeout bounds fetch plus render of one click.
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
}

// HistoryConfig controls the dispatch log.
type HistoryConfig struct {
	// Path of the SQLite file; "off" disables the log.
	Path string `yaml:"path"`
}

// Enabled reports whether the dispatch log is kept.
func (h HistoryConfig) Enabled() bool { return h.Path != "" && h.Path != "off" }

// MCPConfig controls the MCP endpoint.
type MCPConfig struct {
	Disabled bool `yaml:"disabled"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Load reads path (defaults only when empty), then applies the
// environment and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8090"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 100 << 20
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 60 * time.Second
	}
	if c.Render.MaxRows <= 0 {
		c.Render.MaxRows = 5000
	}
	if c.Sessions.IdleTTL <= 0 {
		c.Sessions.IdleTTL = 30 * time.Minute
	}
	if c.Sessions.DispatchTimeout <= 0 {
		c.Sessions.DispatchTimeout = 2 * time.Minute
	}
	if c.History.Path == "" {
		c.History.Path = "docpeek.db"
	}
	if c.RateLimits == nil {
		c.RateLimits = []shield.RateLimitRule{
			{Endpoint: "GET /open", MaxRequests: 30, WindowSeconds: 60},
			{Endpoint: "POST /api/open", MaxRequests: 30, WindowSeconds: 60},
			{Endpoint: "POST /mcp", MaxRequests: 120, WindowSeconds: 60},
		}
	}
}

// ApplyEnv overrides fields from DOCPEEK_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Listen, "DOCPEEK_LISTEN")
	set(&c.PublicURL, "DOCPEEK_PUBLIC_URL")
	set(&c.StartURL, "DOCPEEK_START_URL")
	set(&c.LogLevel, "DOCPEEK_LOG_LEVEL")
	set(&c.History.Path, "DOCPEEK_HISTORY_DB")
	set(&c.Browser.Bin, "DOCPEEK_CHROME")
	set(&c.Browser.Remote, "DOCPEEK_CHROME_REMOTE")
}

// BaseURL is PublicURL, or http://Listen when unset, without a trailing
// slash.
func (c *Config) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimSuffix(c.PublicURL, "/")
	}
	return "http://" + c.Listen
}

// Level parses LogLevel.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	var errs []error
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %q is not debug, info, warn or error", c.LogLevel))
	}
	if c.PublicURL != "" {
		if u, err := url.Parse(c.PublicURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("public_url: %q is not an absolute http(s) URL", c.PublicURL))
		}
	}
	if c.StartURL != "" {
		if u, err := url.Parse(c.StartURL); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("start_url: %q is not absolute", c.StartURL))
		}
	}
	for i, r := range c.RateLimits {
		if _, _, ok := strings.Cut(r.Endpoint, " "); !ok {
			errs = append(errs, fmt.Errorf("rate_limits[%d]: endpoint %q is not \"METHOD /path\"", i, r.Endpoint))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
