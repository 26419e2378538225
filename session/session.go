// Package session owns opened document previews. A Session holds two
// blob handles: the raw artifact exactly as fetched (served by the
// download link) and the surface handle, which backs the content region
// of the presentation surface and is rewritten in place on navigation.
// Both are released together when the session closes.
package session

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/docpeek/blob"
	"github.com/hazyhaar/docpeek/classify"
	"github.com/hazyhaar/docpeek/render"
)

var (
	// ErrClosed is returned by every accessor of a closed session.
	ErrClosed = errors.New("session: closed")

	// ErrNotFound is returned for an unknown or already closed session ID.
	ErrNotFound = errors.New("session: not found")

	// ErrNoRaster is returned by Raster for kinds without page exports.
	ErrNoRaster = errors.New("session: document has no page rasters")
)

// CloseReason records why a session ended.
type CloseReason string

const (
	ReasonClosed    CloseReason = "closed"
	ReasonIdle      CloseReason = "idle"
	ReasonDismissed CloseReason = "dismissed"
	ReasonShutdown  CloseReason = "shutdown"
	ReasonAborted   CloseReason = "aborted"
)

const surfaceContentType = "text/html; charset=utf-8"

// Session is one opened preview.
type Session struct {
	ID      string
	Request classify.Request
	Opened  time.Time

	store   *blob.Store
	raw     blob.Handle
	surface blob.Handle

	doc       render.Document
	decodeErr error

	// ctx is cancelled on close; page loads run under it.
	ctx    context.Context
	cancel context.CancelFunc

	// pinned sessions have a live surface tab and never expire idle.
	pinned atomic.Bool

	mu     sync.Mutex
	pager  Pager
	closed time.Time
}

// Pinned reports whether the session is exempt from idle expiry.
func (s *Session) Pinned() bool { return s.pinned.Load() }

// Kind returns the document kind.
func (s *Session) Kind() classify.Kind { return s.Request.Kind }

// Name returns the file name offered by the download link.
func (s *Session) Name() string { return s.Request.Name }

// Paginated reports whether the surface carries prev/next controls.
func (s *Session) Paginated() bool { return s.Request.Kind.Paginated() }

// DecodeErr returns the error that kept the document from rendering, if
// any. The surface is still open; its content region shows the error.
func (s *Session) DecodeErr() error { return s.decodeErr }

// Position returns the 1-based page shown and the page count. Both are 0
// when the document could not be decoded.
func (s *Session) Position() (page, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pager.Total() == 0 {
		return 0, 0
	}
	return s.pager.Index() + 1, s.pager.Total()
}

// Closed reports whether the session was closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed.IsZero()
}

// Next shows the next page. It reports false at the last page.
func (s *Session) Next(ctx context.Context) (bool, error) {
	return s.move(ctx, (*Pager).Next)
}

// Prev shows the previous page. It reports false at the first page.
func (s *Session) Prev(ctx context.Context) (bool, error) {
	return s.move(ctx, (*Pager).Prev)
}

// move applies one transition. The session mutex is held for the whole
// transition, so concurrent clicks are applied one after another.
func (s *Session) move(ctx context.Context, step func(*Pager) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed.IsZero() {
		return false, ErrClosed
	}
	if !step(&s.pager) {
		return false, nil
	}
	if err := s.store.Replace(s.surface, []byte(s.pageMarkup(ctx, s.pager.Index())), surfaceContentType); err != nil {
		return true, fmt.Errorf("session %s: %w", s.ID, err)
	}
	return true, nil
}

// pageMarkup renders page index, or the inline error for it.
func (s *Session) pageMarkup(ctx context.Context, index int) template.HTML {
	if s.doc == nil {
		return render.ErrorMarkup(s.decodeErr)
	}
	ctx, stop := mergeCancel(ctx, s.ctx)
	defer stop()
	page, err := s.doc.Page(ctx, index)
	if err != nil {
		return render.ErrorMarkup(err)
	}
	return page
}

// Content returns the markup of the content region.
func (s *Session) Content() (template.HTML, error) {
	data, _, err := s.store.Get(s.surface)
	if err != nil {
		return "", ErrClosed
	}
	return template.HTML(data), nil
}

// Artifact returns the fetched bytes and their content type.
func (s *Session) Artifact() ([]byte, string, error) {
	data, ct, err := s.store.Get(s.raw)
	if err != nil {
		return nil, "", ErrClosed
	}
	return data, ct, nil
}

// Raster exports the 1-based page as a standalone file.
func (s *Session) Raster(ctx context.Context, page int) ([]byte, error) {
	r, ok := s.doc.(render.Rasterizer)
	if !ok {
		return nil, ErrNoRaster
	}
	if s.Closed() {
		return nil, ErrClosed
	}
	ctx, stop := mergeCancel(ctx, s.ctx)
	defer stop()
	data, err := r.Raster(ctx, page-1)
	if errors.Is(err, blob.ErrReleased) {
		return nil, ErrClosed
	}
	return data, err
}

// release frees both handles. Only the first call does anything; it
// reports whether this call was the one that closed the session.
func (s *Session) release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed.IsZero() {
		return false
	}
	s.closed = time.Now()
	s.cancel()
	s.store.Release(s.surface)
	s.store.Release(s.raw)
	return true
}

// artifact reads the raw bytes through the handle, so a document that
// outlives its session fails instead of reading freed memory.
type artifact struct {
	store *blob.Store
	h     blob.Handle
	ct    string
}

func (a *artifact) Bytes() ([]byte, error) {
	data, _, err := a.store.Get(a.h)
	return data, err
}

func (a *artifact) ContentType() string { return a.ct }

// mergeCancel derives a context from ctx that is also cancelled when
// parent is done.
func mergeCancel(ctx, parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
