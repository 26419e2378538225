package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/hazyhaar/docpeek/blob"
	"github.com/hazyhaar/docpeek/classify"
	"github.com/hazyhaar/docpeek/idgen"
	"github.com/hazyhaar/docpeek/render"
	"github.com/hazyhaar/docpeek/retrieve"
)

// DefaultIdleTTL closes unpinned sessions (opened over HTTP, the API or
// MCP) whose surface was not touched for this long.
const DefaultIdleTTL = 30 * time.Minute

// Manager is the owning collection of open sessions. Sessions live in a
// TTL cache keyed by ID; every way out of the cache (explicit close, idle
// expiry, dismissal, shutdown) releases the session's handles once.
type Manager struct {
	registry *render.Registry
	store    *blob.Store
	sessions *cache.Cache
	newID    idgen.Generator
	logger   *slog.Logger
	idleTTL  time.Duration

	hookMu  sync.RWMutex
	onClose []func(*Session, CloseReason)
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore shares a blob store (default: a private one).
func WithStore(s *blob.Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithIdleTTL sets how long an untouched session stays open.
func WithIdleTTL(d time.Duration) Option {
	return func(m *Manager) { m.idleTTL = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(g idgen.Generator) Option {
	return func(m *Manager) { m.newID = g }
}

// NewManager creates a Manager rendering with reg.
func NewManager(reg *render.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry: reg,
		newID:    idgen.Session,
		logger:   slog.Default(),
		idleTTL:  DefaultIdleTTL,
	}
	for _, o := range opts {
		o(m)
	}
	if m.store == nil {
		m.store = blob.NewStore()
	}
	sweep := max(m.idleTTL/4, time.Second)
	m.sessions = cache.New(m.idleTTL, sweep)
	m.sessions.OnEvicted(func(_ string, v any) {
		m.finish(v.(*Session), ReasonIdle)
	})
	return m
}

// OnClose registers fn to run once for every session that closes.
func (m *Manager) OnClose(fn func(*Session, CloseReason)) {
	m.hookMu.Lock()
	m.onClose = append(m.onClose, fn)
	m.hookMu.Unlock()
}

// Store returns the blob store backing the sessions.
func (m *Manager) Store() *blob.Store { return m.store }

// Open stores the payload, renders it and registers the new session. A
// document that fails to decode still opens: the session carries the
// decode error and its content region shows it.
func (m *Manager) Open(ctx context.Context, req classify.Request, p retrieve.Payload) (*Session, error) {
	strategy, err := m.registry.For(req.Kind)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:      m.newID(),
		Request: req,
		Opened:  time.Now(),
		store:   m.store,
		ctx:     sctx,
		cancel:  cancel,
	}
	s.raw = m.store.Put(p.Data, p.ContentType)

	doc, err := strategy.Render(ctx, &artifact{store: m.store, h: s.raw, ct: p.ContentType})
	if err != nil {
		var de *render.DecodeError
		if !errors.As(err, &de) {
			de = &render.DecodeError{Kind: req.Kind, Err: err}
		}
		s.decodeErr = de
		m.logger.Warn("session: decode failed",
			"session", s.ID, "kind", req.Kind.String(), "url", req.URL, "error", err)
	} else {
		s.doc = doc
		if s.Paginated() {
			s.pager = NewPager(doc.Len())
		}
	}
	s.surface = m.store.Put([]byte(s.pageMarkup(ctx, 0)), surfaceContentType)

	m.sessions.Set(s.ID, s, cache.DefaultExpiration)
	m.logger.Info("session: opened",
		"session", s.ID, "kind", req.Kind.String(), "name", req.Name, "bytes", len(p.Data))
	return s, nil
}

// Get returns the open session with the given ID and resets its idle timer.
func (m *Manager) Get(id string) (*Session, error) {
	v, ok := m.sessions.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	s := v.(*Session)
	m.sessions.Set(id, s, s.expiration())
	// The janitor may have evicted it between Get and Set.
	if s.Closed() {
		m.sessions.Delete(id)
		return nil, ErrNotFound
	}
	return s, nil
}

// Pin exempts the session from idle expiry. Pinned sessions end when
// their surface tab closes (Dismiss), on Close, or on shutdown.
func (m *Manager) Pin(id string) error {
	v, ok := m.sessions.Get(id)
	if !ok {
		return ErrNotFound
	}
	s := v.(*Session)
	s.pinned.Store(true)
	m.sessions.Set(id, s, cache.NoExpiration)
	if s.Closed() {
		m.sessions.Delete(id)
		return ErrNotFound
	}
	return nil
}

func (s *Session) expiration() time.Duration {
	if s.Pinned() {
		return cache.NoExpiration
	}
	return cache.DefaultExpiration
}

// List returns the open sessions, oldest first.
func (m *Manager) List() []*Session {
	items := m.sessions.Items()
	out := make([]*Session, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(*Session))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Opened.Before(out[j].Opened) })
	return out
}

// Len returns the number of open sessions.
func (m *Manager) Len() int { return m.sessions.ItemCount() }

// Close releases the session. Closing twice is a no-op.
func (m *Manager) Close(s *Session) error {
	m.closeWith(s, ReasonClosed)
	return nil
}

// Dismiss closes the session by ID when its surface went away without
// the close control (tab closed, window destroyed).
func (m *Manager) Dismiss(id string) bool {
	v, ok := m.sessions.Get(id)
	if !ok {
		return false
	}
	return m.closeWith(v.(*Session), ReasonDismissed)
}

// Abort closes a session whose surface could not be shown.
func (m *Manager) Abort(s *Session) {
	m.closeWith(s, ReasonAborted)
}

// CloseAll releases every open session.
func (m *Manager) CloseAll() {
	for _, s := range m.List() {
		m.closeWith(s, ReasonShutdown)
	}
}

func (m *Manager) closeWith(s *Session, reason CloseReason) bool {
	closed := m.finish(s, reason)
	m.sessions.Delete(s.ID)
	return closed
}

// finish releases s and notifies the hooks, once per session.
func (m *Manager) finish(s *Session, reason CloseReason) bool {
	if !s.release() {
		return false
	}
	m.logger.Info("session: closed",
		"session", s.ID, "reason", string(reason), "open_for", time.Since(s.Opened).Round(time.Millisecond))

	m.hookMu.RLock()
	hooks := m.onClose
	m.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(s, reason)
	}
	return true
}
