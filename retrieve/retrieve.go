// Package retrieve performs the credentialed fetch of a document URL.
//
// A fetch is a single GET carrying the user's ambient cookies, buffered in
// full before it returns. There is no retry: a failing server is reported
// once, with its status, instead of being masked by a retry loop.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/hazyhaar/docpeek/horosafe"
)

// DefaultMaxBytes caps a document body (100 MB).
const DefaultMaxBytes int64 = 100 << 20

// Payload is a fully buffered response body.
type Payload struct {
	URL         string
	Data        []byte
	ContentType string
	FetchedAt   time.Time
}

// FetchError is the only error Fetch returns. Status is the HTTP status
// for non-2xx responses and 0 for transport failures (DNS, TLS, reset,
// truncated or oversized body).
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transport reports whether the failure happened below HTTP.
func (e *FetchError) Transport() bool { return e.Status == 0 }

// CookieSource supplies session cookies for a URL, typically from the
// browser profile the click came from.
type CookieSource interface {
	Cookies(ctx context.Context, u *url.URL) ([]*http.Cookie, error)
}

// Retriever fetches documents.
type Retriever struct {
	client   *http.Client
	cookies  CookieSource
	maxBytes int64
	check    func(string) error
	logger   *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithClient sets a custom HTTP client. Its Jar, if any, supplies the
// ambient cookies.
func WithClient(c *http.Client) Option {
	return func(r *Retriever) { r.client = c }
}

// WithTimeout bounds one request, body included.
func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) {
		if d > 0 {
			c := *r.client
			c.Timeout = d
			r.client = &c
		}
	}
}

// WithCookieSource adds cookies from src to every request.
func WithCookieSource(src CookieSource) Option {
	return func(r *Retriever) { r.cookies = src }
}

// WithMaxBytes caps the response body size.
func WithMaxBytes(n int64) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// WithURLCheck replaces the URL policy applied before each request.
// The default only allows http and https.
func WithURLCheck(fn func(string) error) Option {
	return func(r *Retriever) { r.check = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// New creates a Retriever. The default client has a 60s timeout and an
// in-memory cookie jar scoped by the public suffix list.
func New(opts ...Option) *Retriever {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	r := &Retriever{
		client:   &http.Client{Timeout: 60 * time.Second, Jar: jar},
		maxBytes: DefaultMaxBytes,
		check:    horosafe.CheckScheme,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Jar returns the client's cookie jar (nil when the client has none).
func (r *Retriever) Jar() http.CookieJar {
	return r.client.Jar
}

// Fetch GETs canonicalURL and buffers the body.
func (r *Retriever) Fetch(ctx context.Context, canonicalURL string) (*Payload, error) {
	fail := func(status int, err error) (*Payload, error) {
		return nil, &FetchError{URL: canonicalURL, Status: status, Err: err}
	}

	if r.check != nil {
		if err := r.check(canonicalURL); err != nil {
			return fail(0, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, canonicalURL, nil)
	if err != nil {
		return fail(0, fmt.Errorf("retrieve: new request: %w", err))
	}
	if r.cookies != nil {
		cookies, err := r.cookies.Cookies(ctx, req.URL)
		if err != nil {
			r.logger.Warn("retrieve: cookie source failed", "url", canonicalURL, "error", err)
		}
		for _, c := range cookies {
			req.AddCookie(c)
		}
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.logger.Info("retrieve: non-2xx", "url", canonicalURL, "status", resp.StatusCode)
		return fail(resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}

	body, err := horosafe.LimitedReadAll(resp.Body, r.maxBytes)
	if err != nil {
		return fail(0, fmt.Errorf("retrieve: read body: %w", err))
	}

	r.logger.Debug("retrieve: fetched",
		"url", canonicalURL, "status", resp.StatusCode,
		"size", len(body), "elapsed", time.Since(start))

	return &Payload{
		URL:         canonicalURL,
		Data:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FetchedAt:   time.Now(),
	}, nil
}
