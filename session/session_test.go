package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/docpeek/classify"
	"github.com/hazyhaar/docpeek/internal/testdoc"
	"github.com/hazyhaar/docpeek/render"
	"github.com/hazyhaar/docpeek/retrieve"
)

func TestPager_Boundaries(t *testing.T) {
	p := NewPager(3)

	if p.Prev() || p.Index() != 0 {
		t.Fatalf("prev at 0 moved to %d", p.Index())
	}
	p.Next()
	p.Next()
	if p.Index() != 2 {
		t.Fatalf("index = %d, want 2", p.Index())
	}
	if p.Next() || p.Index() != 2 {
		t.Fatalf("next at 2 moved to %d", p.Index())
	}

	q := NewPager(3)
	if !q.Next() || !q.Prev() || q.Index() != 0 {
		t.Fatalf("next then prev from 0 ended at %d", q.Index())
	}
}

func TestPager_Empty(t *testing.T) {
	var p Pager
	if p.Next() || p.Prev() || p.Index() != 0 || p.Total() != 0 {
		t.Fatalf("empty pager moved: %+v", p)
	}
	if NewPager(-1).Total() != 0 {
		t.Fatal("negative total not clamped")
	}
}

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(render.NewRegistry(render.Config{}), opts...)
	t.Cleanup(m.CloseAll)
	return m
}

func openKind(t *testing.T, m *Manager, rawURL string, data []byte) *Session {
	t.Helper()
	req, err := classify.NewRequest(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	s, err := m.Open(context.Background(), req, retrieve.Payload{URL: req.URL, Data: data})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestSession_SlideNavigation(t *testing.T) {
	m := newManager(t)
	s := openKind(t, m, "https://x.test/deck.pptx", testdoc.Deck("alpha", "", "gamma"))
	ctx := context.Background()

	if !s.Paginated() {
		t.Fatal("slides are paginated")
	}
	if page, total := s.Position(); page != 1 || total != 3 {
		t.Fatalf("Position = %d/%d, want 1/3", page, total)
	}
	content, _ := s.Content()
	if !strings.Contains(string(content), "alpha") {
		t.Fatalf("initial content = %s", content)
	}

	if moved, err := s.Prev(ctx); moved || err != nil {
		t.Fatalf("Prev at first slide: moved=%v err=%v", moved, err)
	}
	if moved, _ := s.Next(ctx); !moved {
		t.Fatal("Next did not move")
	}
	content, _ = s.Content()
	if !strings.Contains(string(content), render.BlankSlide) {
		t.Fatalf("slide 2 content = %s", content)
	}
	s.Next(ctx)
	if moved, _ := s.Next(ctx); moved {
		t.Fatal("Next moved past the last slide")
	}
	if page, _ := s.Position(); page != 3 {
		t.Fatalf("page = %d, want 3", page)
	}
}

func TestSession_ConcurrentNavigationStaysInRange(t *testing.T) {
	m := newManager(t)
	s := openKind(t, m, "https://x.test/deck.pptx", testdoc.Deck("a", "b", "c", "d"))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); s.Next(ctx) }()
		go func() { defer wg.Done(); s.Prev(ctx) }()
	}
	wg.Wait()

	page, total := s.Position()
	if page < 1 || page > total {
		t.Fatalf("position %d/%d out of range", page, total)
	}
	content, _ := s.Content()
	if !strings.Contains(string(content), fmt.Sprintf("Slide %d / 4", page)) {
		t.Fatalf("content does not match position %d: %s", page, content)
	}
}

func TestSession_DecodeErrorStillOpens(t *testing.T) {
	m := newManager(t)
	s := openKind(t, m, "https://x.test/broken.pdf", []byte("<html>not a pdf</html>"))

	var de *render.DecodeError
	if !errors.As(s.DecodeErr(), &de) {
		t.Fatalf("DecodeErr = %v", s.DecodeErr())
	}
	content, err := s.Content()
	if err != nil || !strings.Contains(string(content), "render-error") {
		t.Fatalf("content = %s, err = %v", content, err)
	}
	if page, total := s.Position(); page != 0 || total != 0 {
		t.Fatalf("Position = %d/%d", page, total)
	}
	if moved, err := s.Next(context.Background()); moved || err != nil {
		t.Fatalf("Next on undecodable doc: %v %v", moved, err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d", m.Len())
	}
}

func TestSession_SingleViewKind(t *testing.T) {
	m := newManager(t)
	s := openKind(t, m, "https://x.test/notes.txt", []byte("hello"))
	if s.Paginated() {
		t.Fatal("text is not paginated")
	}
	data, _, err := s.Artifact()
	if err != nil || string(data) != "hello" {
		t.Fatalf("Artifact = %q, %v", data, err)
	}
	if _, err := s.Raster(context.Background(), 1); !errors.Is(err, ErrNoRaster) {
		t.Fatalf("Raster on text: %v", err)
	}
}

func TestManager_CloseTwice(t *testing.T) {
	m := newManager(t)
	var calls []CloseReason
	m.OnClose(func(_ *Session, r CloseReason) { calls = append(calls, r) })

	s := openKind(t, m, "https://x.test/notes.txt", []byte("hello"))
	if m.Store().Len() != 2 {
		t.Fatalf("live handles = %d, want raw + surface", m.Store().Len())
	}

	if err := m.Close(s); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(s); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if len(calls) != 1 || calls[0] != ReasonClosed {
		t.Fatalf("close hooks = %v", calls)
	}
	if m.Store().Len() != 0 || m.Len() != 0 {
		t.Fatalf("after close: handles=%d sessions=%d", m.Store().Len(), m.Len())
	}
	if !s.Closed() {
		t.Fatal("Closed = false")
	}
	if _, err := s.Content(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Content after close: %v", err)
	}
	if _, _, err := s.Artifact(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Artifact after close: %v", err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Next after close: %v", err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after close: %v", err)
	}
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	m := newManager(t)
	data := []byte("same bytes")
	a := openKind(t, m, "https://x.test/a.txt", data)
	b := openKind(t, m, "https://x.test/b.txt", data)

	if a.ID == b.ID || a.raw == b.raw || a.surface == b.surface {
		t.Fatal("sessions share identifiers or handles")
	}
	m.Close(a)
	if got, _, err := b.Artifact(); err != nil || string(got) != "same bytes" {
		t.Fatalf("closing a affected b: %q %v", got, err)
	}
	if got, err := m.Get(b.ID); err != nil || got != b {
		t.Fatalf("Get(b) = %v, %v", got, err)
	}
}

func TestManager_IdleExpiry(t *testing.T) {
	m := newManager(t, WithIdleTTL(50*time.Millisecond))
	done := make(chan CloseReason, 1)
	m.OnClose(func(_ *Session, r CloseReason) { done <- r })

	openKind(t, m, "https://x.test/a.txt", []byte("x"))

	select {
	case r := <-done:
		if r != ReasonIdle {
			t.Fatalf("reason = %s", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("idle session was never closed")
	}
	if m.Store().Len() != 0 {
		t.Fatalf("handles leaked: %d", m.Store().Len())
	}
}

func TestManager_PinnedSessionSkipsIdleExpiry(t *testing.T) {
	m := newManager(t, WithIdleTTL(50*time.Millisecond))
	idle := make(chan string, 2)
	m.OnClose(func(s *Session, r CloseReason) {
		if r == ReasonIdle {
			idle <- s.ID
		}
	})

	pinned := openKind(t, m, "https://x.test/tab.txt", []byte("read slowly"))
	loose := openKind(t, m, "https://x.test/api.txt", []byte("x"))
	if err := m.Pin(pinned.ID); err != nil {
		t.Fatal(err)
	}
	// Get must not undo the pin.
	if _, err := m.Get(pinned.ID); err != nil {
		t.Fatal(err)
	}

	select {
	case id := <-idle:
		if id != loose.ID {
			t.Fatalf("idle-closed %s, want %s", id, loose.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("unpinned session was never closed")
	}
	time.Sleep(100 * time.Millisecond)

	if got, err := pinned.Content(); err != nil || !strings.Contains(string(got), "read slowly") {
		t.Fatalf("pinned content = %q, %v", got, err)
	}
	if m.Len() != 1 || !pinned.Pinned() {
		t.Fatalf("len = %d pinned = %v", m.Len(), pinned.Pinned())
	}
	if err := m.Pin(loose.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Pin(expired) = %v", err)
	}
}

func TestManager_DismissAndCloseAll(t *testing.T) {
	m := newManager(t)
	reasons := map[string]CloseReason{}
	var mu sync.Mutex
	m.OnClose(func(s *Session, r CloseReason) {
		mu.Lock()
		reasons[s.ID] = r
		mu.Unlock()
	})

	a := openKind(t, m, "https://x.test/a.txt", []byte("a"))
	b := openKind(t, m, "https://x.test/b.txt", []byte("b"))

	if !m.Dismiss(a.ID) || m.Dismiss(a.ID) {
		t.Fatal("Dismiss should succeed exactly once")
	}
	if got := m.List(); len(got) != 1 || got[0] != b {
		t.Fatalf("List = %v", got)
	}
	m.CloseAll()

	if reasons[a.ID] != ReasonDismissed || reasons[b.ID] != ReasonShutdown {
		t.Fatalf("reasons = %v", reasons)
	}
	if m.Len() != 0 || m.Store().Len() != 0 {
		t.Fatal("CloseAll left sessions behind")
	}
}

func TestManager_UnsupportedKind(t *testing.T) {
	m := newManager(t)
	_, err := m.Open(context.Background(), classify.Request{URL: "https://x.test/a", Kind: classify.None}, retrieve.Payload{})
	if err == nil {
		t.Fatal("expected error for kind none")
	}
	if m.Store().Len() != 0 {
		t.Fatal("failed open allocated handles")
	}
}
