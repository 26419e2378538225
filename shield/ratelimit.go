package shield

import (
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// RateLimitRule limits one endpoint prefix. Endpoint is "METHOD /path";
// a request matches the rule with the longest prefix of its
// "METHOD /path" string.
type RateLimitRule struct {
	Endpoint      string `yaml:"endpoint"`
	MaxRequests   int    `yaml:"max_requests"`
	WindowSeconds int    `yaml:"window_seconds"`
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter provides per-IP, per-endpoint fixed-window rate limiting.
// Rules come from configuration; expired buckets are garbage collected
// by StartGC.
type RateLimiter struct {
	rules   []RateLimitRule // longest endpoint first
	buckets sync.Map
	now     func() time.Time
}

// NewRateLimiter creates a limiter enforcing rules. Rules with a
// non-positive limit or window are ignored.
func NewRateLimiter(rules []RateLimitRule) *RateLimiter {
	rl := &RateLimiter{now: time.Now}
	for _, r := range rules {
		if r.MaxRequests > 0 && r.WindowSeconds > 0 && r.Endpoint != "" {
			rl.rules = append(rl.rules, r)
		}
	}
	sort.SliceStable(rl.rules, func(i, j int) bool {
		return len(rl.rules[i].Endpoint) > len(rl.rules[j].Endpoint)
	})
	return rl
}

// StartGC drops expired buckets every interval until done is closed.
func (rl *RateLimiter) StartGC(done <-chan struct{}, interval time.Duration) {
	tick := time.NewTicker(interval)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				rl.gc()
			}
		}
	}()
}

func (rl *RateLimiter) gc() {
	now := rl.now()
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := now.After(b.resetAt)
		b.mu.Unlock()
		if expired {
			rl.buckets.Delete(key)
		}
		return true
	})
}

func (rl *RateLimiter) rule(endpoint string) (RateLimitRule, bool) {
	for _, r := range rl.rules {
		if strings.HasPrefix(endpoint, r.Endpoint) {
			return r, true
		}
	}
	return RateLimitRule{}, false
}

func (rl *RateLimiter) allow(ip, endpoint string) bool {
	cfg, ok := rl.rule(endpoint)
	if !ok {
		return true
	}

	window := time.Duration(cfg.WindowSeconds) * time.Second
	now := rl.now()
	val, _ := rl.buckets.LoadOrStore(ip+" "+cfg.Endpoint, &bucket{resetAt: now.Add(window)})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(window)
	}
	b.count++
	return b.count <= cfg.MaxRequests
}

// Middleware is the HTTP middleware that enforces rate limits.
// API paths (/api/*) get a 429 JSON response; other paths get a 429 with
// a plain-text body.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.Method + " " + r.URL.Path
		ip := ExtractIP(r)

		if rl.allow(ip, endpoint) {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)
		w.Header().Set("Retry-After", "60")

		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "rate limit exceeded",
			})
			return
		}
		http.Error(w, "Too many requests, please wait.", http.StatusTooManyRequests)
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
