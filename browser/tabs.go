package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/docpeek/api"
	"github.com/hazyhaar/docpeek/dispatch"
	"github.com/hazyhaar/docpeek/session"
)

// Tabs opens each session's surface in its own tab and ties the two
// lifetimes together: closing the tab dismisses the session, closing the
// session closes the tab.
type Tabs struct {
	mgr       *Manager
	sessions  *session.Manager
	publicURL string
	logger    *slog.Logger

	mu        sync.Mutex
	bySession map[string]tab
	byTarget  map[proto.TargetTargetID]string
}

type tab struct {
	target proto.TargetTargetID
	page   *rod.Page
}

// NewTabs creates the opener. publicURL is the base the surface server is
// reachable at from the browser.
func NewTabs(mgr *Manager, sessions *session.Manager, publicURL string, logger *slog.Logger) *Tabs {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tabs{
		mgr:       mgr,
		sessions:  sessions,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		logger:    logger,
		bySession: make(map[string]tab),
		byTarget:  make(map[proto.TargetTargetID]string),
	}
	sessions.OnClose(t.sessionClosed)
	return t
}

// SurfaceURL is the absolute URL of a session's surface.
func (t *Tabs) SurfaceURL(id string) string {
	return t.publicURL + api.SurfacePath(id)
}

// Open implements dispatch.Opener.
func (t *Tabs) Open(_ context.Context, s *session.Session) error {
	b, err := t.mgr.browserOrErr()
	if err != nil {
		return err
	}
	// The page outlives the dispatch, so it is not bound to its context.
	page, err := b.Page(proto.TargetCreateTarget{URL: t.SurfaceURL(s.ID)})
	if err != nil {
		return fmt.Errorf("browser: open surface tab: %w", err)
	}
	if err := t.track(s.ID, page.TargetID, page); err != nil {
		page.Close()
		return err
	}
	t.logger.Debug("browser: surface tab opened", "session", s.ID, "target", page.TargetID)
	return nil
}

// track ties the session to its tab. The session is pinned: while the
// tab is open it does not expire idle, whatever the user does in it.
func (t *Tabs) track(sessionID string, target proto.TargetTargetID, page *rod.Page) error {
	if err := t.sessions.Pin(sessionID); err != nil {
		return fmt.Errorf("browser: pin session %s: %w", sessionID, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bySession[sessionID] = tab{target: target, page: page}
	t.byTarget[target] = sessionID
	return nil
}

func (t *Tabs) untrackSession(sessionID string) *rod.Page {
	t.mu.Lock()
	defer t.mu.Unlock()
	tb, ok := t.bySession[sessionID]
	if !ok {
		return nil
	}
	delete(t.bySession, sessionID)
	delete(t.byTarget, tb.target)
	return tb.page
}

// Len returns the number of tracked surface tabs.
func (t *Tabs) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bySession)
}

// TargetDestroyed dismisses the session whose surface tab went away.
// Register it with Interceptor.OnTargetDestroyed.
func (t *Tabs) TargetDestroyed(target proto.TargetTargetID) {
	t.mu.Lock()
	sessionID, ok := t.byTarget[target]
	if ok {
		delete(t.byTarget, target)
		delete(t.bySession, sessionID)
	}
	t.mu.Unlock()
	if ok && t.sessions.Dismiss(sessionID) {
		t.logger.Info("browser: surface tab closed", "session", sessionID)
	}
}

// sessionClosed closes the surface tab of a session that ended some other
// way (close control, idle expiry, shutdown).
func (t *Tabs) sessionClosed(s *session.Session, reason session.CloseReason) {
	page := t.untrackSession(s.ID)
	if page == nil || reason == session.ReasonDismissed {
		return
	}
	go func() {
		if err := page.Close(); err != nil {
			t.logger.Debug("browser: close surface tab", "session", s.ID, "error", err)
		}
	}()
}

var _ dispatch.Opener = (*Tabs)(nil)
