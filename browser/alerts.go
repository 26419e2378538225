package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/docpeek/dispatch"
	"github.com/hazyhaar/docpeek/retrieve"
)

// Alerts raises failure messages with alert() in the page the click came
// from, or in the first open page when that one is gone.
type Alerts struct {
	mgr *Manager
}

// NewAlerts creates the notifier.
func NewAlerts(mgr *Manager) *Alerts { return &Alerts{mgr: mgr} }

// Alert implements dispatch.Notifier. The dialog is scheduled with
// setTimeout so the call returns without waiting for the user.
func (a *Alerts) Alert(ctx context.Context, message string) error {
	page, err := a.mgr.pageFor(sourceFrom(ctx))
	if err != nil {
		return err
	}
	if _, err := page.Context(ctx).Eval(`(m) => { setTimeout(() => alert(m), 0); }`, message); err != nil {
		return fmt.Errorf("browser: alert: %w", err)
	}
	return nil
}

// pageFor returns the page of target, falling back to the first page.
func (m *Manager) pageFor(target proto.TargetTargetID) (*rod.Page, error) {
	b, err := m.browserOrErr()
	if err != nil {
		return nil, err
	}
	if target != "" {
		if page, err := b.PageFromTarget(target); err == nil {
			return page, nil
		}
	}
	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("browser: no open page")
	}
	return pages[0], nil
}

// Cookies reads the browser's cookies for a URL, so documents behind a
// login are fetched with the user's session.
type Cookies struct {
	mgr *Manager
}

// NewCookies creates the cookie source.
func NewCookies(mgr *Manager) *Cookies { return &Cookies{mgr: mgr} }

// Cookies implements retrieve.CookieSource.
func (c *Cookies) Cookies(ctx context.Context, u *url.URL) ([]*http.Cookie, error) {
	page, err := c.mgr.pageFor("")
	if err != nil {
		return nil, err
	}
	res, err := proto.NetworkGetCookies{Urls: []string{u.String()}}.Call(page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: get cookies: %w", err)
	}
	return httpCookies(res.Cookies), nil
}

func httpCookies(in []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil || c.Name == "" {
			continue
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

var (
	_ dispatch.Notifier     = (*Alerts)(nil)
	_ retrieve.CookieSource = (*Cookies)(nil)
)
