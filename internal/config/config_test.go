package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/docpeek/shield"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Listen != "127.0.0.1:8090" || c.BaseURL() != "http://127.0.0.1:8090" {
		t.Fatalf("listen = %s base = %s", c.Listen, c.BaseURL())
	}
	if c.Sessions.IdleTTL != 30*time.Minute || c.Render.MaxRows != 5000 || c.Fetch.MaxBytes != 100<<20 {
		t.Fatalf("defaults = %+v", c)
	}
	if !c.History.Enabled() || len(c.RateLimits) == 0 {
		t.Fatalf("history = %+v limits = %v", c.History, c.RateLimits)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docpeek.yaml")
	os.WriteFile(path, []byte(`
listen: 0.0.0.0:9000
public_url: https://peek.example.org/
log_level: debug
browser:
  headless: true
  stealth: true
sessions:
  idle_ttl: 5m
history:
  path: "off"
rate_limits:
  - endpoint: GET /open
    max_requests: 5
    window_seconds: 10
`), 0o644)

	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Listen != "0.0.0.0:9000" || c.BaseURL() != "https://peek.example.org" {
		t.Fatalf("listen = %s base = %s", c.Listen, c.BaseURL())
	}
	if c.Level() != slog.LevelDebug || !c.Browser.Headless || !c.Browser.Stealth {
		t.Fatalf("cfg = %+v", c)
	}
	if c.Sessions.IdleTTL != 5*time.Minute || c.Sessions.DispatchTimeout != 2*time.Minute {
		t.Fatalf("sessions = %+v", c.Sessions)
	}
	if c.History.Enabled() {
		t.Fatal("history path off still enabled")
	}
	if len(c.RateLimits) != 1 || c.RateLimits[0].MaxRequests != 5 {
		t.Fatalf("rate limits = %+v", c.RateLimits)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DOCPEEK_LISTEN":     ":7000",
		"DOCPEEK_START_URL":  "https://intranet.example.org/",
		"DOCPEEK_LOG_LEVEL":  "warn",
		"DOCPEEK_HISTORY_DB": "/var/lib/docpeek/history.db",
		"DOCPEEK_CHROME":     "/usr/bin/chromium",
	}
	c := Default()
	c.ApplyEnv(func(k string) string { return env[k] })

	if c.Listen != ":7000" || c.StartURL != "https://intranet.example.org/" || c.Level() != slog.LevelWarn {
		t.Fatalf("cfg = %+v", c)
	}
	if c.History.Path != "/var/lib/docpeek/history.db" || c.Browser.Bin != "/usr/bin/chromium" {
		t.Fatalf("history = %s chrome = %s", c.History.Path, c.Browser.Bin)
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	c.LogLevel = "chatty"
	c.PublicURL = "ftp://x"
	c.StartURL = "/relative"
	c.RateLimits = append(c.RateLimits, shield.RateLimitRule{Endpoint: "/open", MaxRequests: 1, WindowSeconds: 1})

	err := c.Validate()
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"log_level", "public_url", "start_url", "rate_limits[3]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error lacks %s: %v", want, err)
		}
	}
}
