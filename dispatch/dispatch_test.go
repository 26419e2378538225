package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/docpeek/classify"
	"github.com/hazyhaar/docpeek/internal/testdoc"
	"github.com/hazyhaar/docpeek/render"
	"github.com/hazyhaar/docpeek/retrieve"
	"github.com/hazyhaar/docpeek/session"
)

type fakeOpener struct {
	mu     sync.Mutex
	opened []*session.Session
	err    error
	panic  bool
}

func (o *fakeOpener) Open(_ context.Context, s *session.Session) error {
	if o.panic {
		panic("tab crashed")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.opened = append(o.opened, s)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (n *fakeNotifier) Alert(_ context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, msg)
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *fakeRecorder) RecordDispatch(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type fixture struct {
	srv      *httptest.Server
	d        *Dispatcher
	sessions *session.Manager
	opener   *fakeOpener
	notifier *fakeNotifier
	recorder *fakeRecorder

	mu       sync.Mutex
	requests []*http.Request
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	f := &fixture{
		opener:   &fakeOpener{},
		notifier: &fakeNotifier{},
		recorder: &fakeRecorder{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Clone(context.Background()))
		f.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(f.srv.Close)

	ret := retrieve.New()
	u, _ := url.Parse(f.srv.URL)
	ret.Jar().SetCookies(u, []*http.Cookie{{Name: "sid", Value: "s3cret"}})

	f.sessions = session.NewManager(render.NewRegistry(render.Config{}))
	t.Cleanup(f.sessions.CloseAll)
	f.d = New(ret, f.sessions,
		WithOpener(f.opener), WithNotifier(f.notifier), WithRecorder(f.recorder))
	return f
}

func (f *fixture) click(t *testing.T, href string) bool {
	t.Helper()
	taken := f.d.Intercept(context.Background(), Click{Href: href, BaseURL: f.srv.URL + "/portal/index.html"})
	f.d.Wait()
	return taken
}

func TestIntercept_PDFWithForceDownload(t *testing.T) {
	pdf := testdoc.PDF("page one", "page two", "page three")
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdf)
	})

	if !f.click(t, "/files/report.pdf?forcedownload=1") {
		t.Fatal("pdf link was not intercepted")
	}

	if len(f.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(f.requests))
	}
	req := f.requests[0]
	if req.URL.Path != "/files/report.pdf" || req.URL.RawQuery != "" {
		t.Fatalf("fetched %s?%s", req.URL.Path, req.URL.RawQuery)
	}
	if c, err := req.Cookie("sid"); err != nil || c.Value != "s3cret" {
		t.Fatalf("fetch was not credentialed: %v", err)
	}

	if len(f.opener.opened) != 1 {
		t.Fatalf("surfaces opened = %d, want 1", len(f.opener.opened))
	}
	s := f.opener.opened[0]
	if s.Kind() != classify.PDF || !s.Paginated() {
		t.Fatalf("kind = %v paginated = %v", s.Kind(), s.Paginated())
	}
	if page, total := s.Position(); page != 1 || total != 3 {
		t.Fatalf("position = %d/%d", page, total)
	}
	if len(f.notifier.alerts) != 0 {
		t.Fatalf("unexpected alerts: %v", f.notifier.alerts)
	}
	if ev := f.recorder.events; len(ev) != 1 || ev[0].SessionID != s.ID || ev[0].Outcome != OutcomeOpened {
		t.Fatalf("events = %+v", ev)
	}
}

func TestIntercept_Forbidden(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	})

	if !f.click(t, "/files/report.pdf") {
		t.Fatal("pdf link was not intercepted")
	}
	if len(f.opener.opened) != 0 || f.sessions.Len() != 0 {
		t.Fatal("a surface was opened for a failed fetch")
	}
	if len(f.notifier.alerts) != 1 {
		t.Fatalf("alerts = %v, want exactly one", f.notifier.alerts)
	}
	msg := f.notifier.alerts[0]
	if !strings.HasPrefix(msg, AlertPrefix) || !strings.Contains(msg, "403") {
		t.Fatalf("alert = %q", msg)
	}
	if ev := f.recorder.events; len(ev) != 1 || ev[0].Status != 403 || ev[0].SessionID != "" || ev[0].Outcome != OutcomeFetchError {
		t.Fatalf("events = %+v", ev)
	}
	if f.sessions.Store().Len() != 0 {
		t.Fatal("failed fetch allocated handles")
	}
}

func TestIntercept_Unsupported(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})

	for _, href := range []string{"/about.html", "/files/report.pdf.html", "/download?file=a.pdf", "mailto:a@b.c"} {
		if f.click(t, href) {
			t.Errorf("%q should not be intercepted", href)
		}
	}
	if len(f.requests) != 0 || len(f.notifier.alerts) != 0 || len(f.recorder.events) != 0 {
		t.Fatal("unsupported links had side effects")
	}
}

func TestIntercept_DecodeErrorStillOpens(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>session expired</html>"))
	})

	f.click(t, "report.pdf")
	if len(f.opener.opened) != 1 || len(f.notifier.alerts) != 0 {
		t.Fatalf("opened=%d alerts=%v", len(f.opener.opened), f.notifier.alerts)
	}
	content, _ := f.opener.opened[0].Content()
	if !strings.Contains(string(content), "render-error") {
		t.Fatalf("content = %s", content)
	}
	if ev := f.recorder.events; len(ev) != 1 || ev[0].Outcome != OutcomeDecodeError || ev[0].Err == "" {
		t.Fatalf("events = %+v", ev)
	}
}

func TestIntercept_OpenerFailureClosesSession(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("hi")) })
	f.opener.err = errors.New("no browser")

	f.click(t, "notes.txt")
	if len(f.notifier.alerts) != 1 || !strings.Contains(f.notifier.alerts[0], "no browser") {
		t.Fatalf("alerts = %v", f.notifier.alerts)
	}
	if f.sessions.Len() != 0 || f.sessions.Store().Len() != 0 {
		t.Fatal("session survived a failed open")
	}
}

func TestIntercept_PanicIsContained(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("hi")) })
	f.opener.panic = true

	if !f.click(t, "notes.txt") {
		t.Fatal("not intercepted")
	}
	if len(f.notifier.alerts) != 1 || !strings.Contains(f.notifier.alerts[0], "tab crashed") {
		t.Fatalf("alerts = %v", f.notifier.alerts)
	}
	if f.sessions.Len() != 0 {
		t.Fatal("session survived a panicking opener")
	}
}

func TestIntercept_OutlivesClickContext(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("hi")) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !f.d.Intercept(ctx, Click{Href: f.srv.URL + "/notes.txt"}) {
		t.Fatal("not intercepted")
	}
	f.d.Wait()
	if len(f.opener.opened) != 1 || len(f.notifier.alerts) != 0 {
		t.Fatalf("opened = %d alerts = %v", len(f.opener.opened), f.notifier.alerts)
	}
}

func TestIntercept_CancelledByBaseContext(t *testing.T) {
	arrived := make(chan struct{})
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.Write([]byte("too late"))
	})
	base, shutdown := context.WithCancel(context.Background())
	defer shutdown()
	f.d = New(retrieve.New(), f.sessions,
		WithOpener(f.opener), WithNotifier(f.notifier), WithRecorder(f.recorder),
		WithBaseContext(base))

	if !f.d.Intercept(context.Background(), Click{Href: f.srv.URL + "/notes.txt"}) {
		t.Fatal("not intercepted")
	}
	<-arrived
	start := time.Now()
	shutdown()
	f.d.Wait()
	f.sessions.CloseAll()

	if waited := time.Since(start); waited > 2*time.Second {
		t.Fatalf("Wait took %v after shutdown", waited)
	}
	if f.sessions.Len() != 0 || len(f.opener.opened) != 0 {
		t.Fatalf("after shutdown: sessions=%d surfaces=%d", f.sessions.Len(), len(f.opener.opened))
	}
	if len(f.notifier.alerts) != 0 {
		t.Fatalf("shutdown raised alerts: %v", f.notifier.alerts)
	}
	if ev := f.recorder.events; len(ev) != 1 || ev[0].Outcome != OutcomeFetchError {
		t.Fatalf("events = %+v", ev)
	}
}

func TestDispatch_Unsupported(t *testing.T) {
	d := New(retrieve.New(), session.NewManager(render.NewRegistry(render.Config{})))
	if _, err := d.Dispatch(context.Background(), "https://x.test/page.html"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v", err)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct{ href, base, want string }{
		{"/files/a.pdf", "https://x.test/dir/page.html", "https://x.test/files/a.pdf"},
		{"b.docx", "https://x.test/dir/page.html", "https://x.test/dir/b.docx"},
		{"https://y.test/c.txt", "https://x.test/", "https://y.test/c.txt"},
		{"../up.xlsx?x=1", "https://x.test/a/b/", "https://x.test/a/up.xlsx?x=1"},
	}
	for _, tt := range tests {
		got, err := Resolve(tt.href, tt.base)
		if err != nil || got != tt.want {
			t.Errorf("Resolve(%q, %q) = %q, %v; want %q", tt.href, tt.base, got, err, tt.want)
		}
	}
}
