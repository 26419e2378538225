// Package dispatch decides what happens to an activated link: links to
// documents are taken over (fetched, rendered and shown on their own
// surface), everything else is left to the browser.
//
// Intercept answers synchronously so the caller can suppress navigation
// before it happens; the fetch and render run afterwards on their own
// goroutine. Any failure in that pipeline ends as exactly one alert.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/hazyhaar/docpeek/classify"
	"github.com/hazyhaar/docpeek/retrieve"
	"github.com/hazyhaar/docpeek/session"
)

// AlertPrefix starts every failure notification.
const AlertPrefix = "Failed to open document: "

// ErrUnsupported is returned by Dispatch for links that are not documents.
var ErrUnsupported = errors.New("dispatch: not a supported document link")

// Click is an activated link as seen on the page.
type Click struct {
	// Href is the attribute value, possibly relative.
	Href string `json:"href"`
	// BaseURL is the document URL the link was clicked on.
	BaseURL string `json:"base"`
	// Source identifies the page that produced the click (a browser
	// target ID); informational only.
	Source string `json:"source,omitempty"`
}

// Fetcher retrieves a document. *retrieve.Retriever implements it.
type Fetcher interface {
	Fetch(ctx context.Context, canonicalURL string) (*retrieve.Payload, error)
}

// Opener shows an opened session on its own surface (a browser tab).
type Opener interface {
	Open(ctx context.Context, s *session.Session) error
}

// Notifier shows a blocking message to the user.
type Notifier interface {
	Alert(ctx context.Context, message string) error
}

// Recorder receives one Event per dispatch.
type Recorder interface {
	RecordDispatch(ctx context.Context, e Event) error
}

// Outcome classifies how a dispatch ended.
type Outcome string

const (
	OutcomeOpened      Outcome = "opened"
	OutcomeDecodeError Outcome = "decode_error"
	OutcomeFetchError  Outcome = "fetch_error"
	OutcomeFailed      Outcome = "failed"
)

// Event summarises one dispatch, successful or not.
type Event struct {
	URL       string
	Kind      classify.Kind
	SessionID string
	Outcome   Outcome
	Status    int
	Err       string
	Elapsed   time.Duration
	At        time.Time
}

// Dispatcher runs the classify → fetch → open pipeline.
type Dispatcher struct {
	fetcher  Fetcher
	sessions *session.Manager
	opener   Opener
	notifier Notifier
	recorder Recorder
	logger   *slog.Logger
	timeout  time.Duration
	base     context.Context

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithOpener sets the surface opener. Without one, Dispatch returns the
// session and the caller presents it.
func WithOpener(o Opener) Option { return func(d *Dispatcher) { d.opener = o } }

// WithNotifier sets where failure alerts go. Without one they are logged.
func WithNotifier(n Notifier) Option { return func(d *Dispatcher) { d.notifier = n } }

// WithRecorder sets the dispatch log.
func WithRecorder(r Recorder) Option { return func(d *Dispatcher) { d.recorder = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithTimeout bounds one intercepted pipeline (default 2m).
func WithTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.timeout = t } }

// WithBaseContext bounds intercepted pipelines by ctx, normally the
// process context. They outlive the click that started them but are
// cancelled with ctx.
func WithBaseContext(ctx context.Context) Option { return func(d *Dispatcher) { d.base = ctx } }

// New creates a Dispatcher.
func New(f Fetcher, sessions *session.Manager, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		fetcher:  f,
		sessions: sessions,
		logger:   slog.Default(),
		timeout:  2 * time.Minute,
		base:     context.Background(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Resolve returns href as an absolute URL, relative to base.
func Resolve(href, base string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() || base == "" {
		return ref.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(ref).String(), nil
}

// Intercept reports whether the click is taken over. On false nothing
// happened and the browser should navigate normally. On true the caller
// must suppress navigation; the document opens, or an alert is raised,
// asynchronously.
func (d *Dispatcher) Intercept(ctx context.Context, c Click) bool {
	target, err := Resolve(c.Href, c.BaseURL)
	if err != nil || !classify.IsSupported(target) {
		return false
	}

	d.logger.Debug("dispatch: intercepted", "href", c.Href, "url", target, "source", c.Source)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// Keep the click's values (transport, source page), not its
		// cancellation; d.base and the timeout bound the pipeline.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		stop := context.AfterFunc(d.base, cancel)
		defer stop()

		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("dispatch: panic", "url", target, "panic", r)
				d.alert(ctx, fmt.Errorf("internal error: %v", r))
			}
		}()

		if _, err := d.Dispatch(ctx, target); err != nil {
			if d.base.Err() != nil {
				d.logger.Info("dispatch: cancelled by shutdown", "url", target)
				return
			}
			d.alert(ctx, err)
		}
	}()
	return true
}

// Dispatch runs the pipeline synchronously for an absolute URL. A fetch
// failure creates no session. If the surface cannot be shown, the session
// is closed again before Dispatch returns.
func (d *Dispatcher) Dispatch(ctx context.Context, rawURL string) (*session.Session, error) {
	start := time.Now()
	if !classify.IsSupported(rawURL) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, rawURL)
	}
	req, err := classify.NewRequest(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	ev := Event{URL: req.URL, Kind: req.Kind, At: start}

	p, err := d.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		var fe *retrieve.FetchError
		if errors.As(err, &fe) {
			ev.Status = fe.Status
		}
		ev.Outcome = OutcomeFetchError
		d.record(ctx, ev, err)
		d.logger.Warn("dispatch: fetch failed", "url", req.URL, "error", err)
		return nil, err
	}

	// A fetch that completed as the context ended opens nothing.
	if err := ctx.Err(); err != nil {
		ev.Outcome = OutcomeFailed
		d.record(ctx, ev, err)
		return nil, err
	}

	s, err := d.sessions.Open(ctx, req, *p)
	if err != nil {
		ev.Outcome = OutcomeFailed
		d.record(ctx, ev, err)
		return nil, err
	}
	ev.SessionID = s.ID

	if err := d.show(ctx, s); err != nil {
		d.sessions.Abort(s)
		ev.Outcome = OutcomeFailed
		d.record(ctx, ev, err)
		return nil, err
	}

	ev.Outcome = OutcomeOpened
	var decErr error
	if decErr = s.DecodeErr(); decErr != nil {
		ev.Outcome = OutcomeDecodeError
	}
	d.record(ctx, ev, decErr)
	d.logger.Info("dispatch: opened",
		"url", req.URL, "kind", req.Kind.String(), "session", s.ID, "elapsed", time.Since(start))
	return s, nil
}

// show hands the session to the opener. A panicking opener is reported
// as an error so the session can be aborted.
func (d *Dispatcher) show(ctx context.Context, s *session.Session) (err error) {
	if d.opener == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("open surface: %v", r)
		}
	}()
	if err := d.opener.Open(ctx, s); err != nil {
		return fmt.Errorf("open surface: %w", err)
	}
	return nil
}

// Wait blocks until every intercepted pipeline has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// AlertMessage is the user-facing text for a failed dispatch.
func AlertMessage(err error) string {
	return AlertPrefix + err.Error()
}

func (d *Dispatcher) alert(ctx context.Context, err error) {
	msg := AlertMessage(err)
	if d.notifier == nil {
		d.logger.Warn("dispatch: alert", "message", msg)
		return
	}
	if nerr := d.notifier.Alert(ctx, msg); nerr != nil {
		d.logger.Error("dispatch: alert not delivered", "message", msg, "error", nerr)
	}
}

func (d *Dispatcher) record(ctx context.Context, ev Event, err error) {
	if d.recorder == nil {
		return
	}
	ev.Elapsed = time.Since(ev.At)
	if err != nil {
		ev.Err = err.Error()
	}
	// The log entry is written even when the pipeline was cancelled.
	if rerr := d.recorder.RecordDispatch(context.WithoutCancel(ctx), ev); rerr != nil {
		d.logger.Warn("dispatch: record failed", "url", ev.URL, "error", rerr)
	}
}
