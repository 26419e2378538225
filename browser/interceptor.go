package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/docpeek/dispatch"
	"github.com/hazyhaar/docpeek/kit"
)

type sourceKey struct{}

// withSource tags ctx with the page a click came from, so the alert for a
// failed dispatch is raised in that page.
func withSource(ctx context.Context, id proto.TargetTargetID) context.Context {
	return context.WithValue(ctx, sourceKey{}, id)
}

func sourceFrom(ctx context.Context) proto.TargetTargetID {
	id, _ := ctx.Value(sourceKey{}).(proto.TargetTargetID)
	return id
}

// Interceptor installs the click listener in every page of the browser
// and hands captured clicks to the dispatcher.
type Interceptor struct {
	mgr        *Manager
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	mu          sync.Mutex
	pages       map[proto.TargetTargetID]context.CancelFunc
	onDestroyed []func(proto.TargetTargetID)
}

// NewInterceptor creates an Interceptor.
func NewInterceptor(mgr *Manager, d *dispatch.Dispatcher, logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		mgr:        mgr,
		dispatcher: d,
		logger:     logger,
		pages:      make(map[proto.TargetTargetID]context.CancelFunc),
	}
}

// OnTargetDestroyed registers fn to run when a page target goes away.
func (i *Interceptor) OnTargetDestroyed(fn func(proto.TargetTargetID)) {
	i.mu.Lock()
	i.onDestroyed = append(i.onDestroyed, fn)
	i.mu.Unlock()
}

// Run installs the listener in every existing and future page, opens
// startURL (when set) and blocks until ctx is done.
func (i *Interceptor) Run(ctx context.Context, startURL string) error {
	b, err := i.mgr.browserOrErr()
	if err != nil {
		return err
	}
	b = b.Context(ctx)

	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		return fmt.Errorf("browser: discover targets: %w", err)
	}
	wait := b.EachEvent(
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return
			}
			go i.attach(ctx, b, e.TargetInfo.TargetID)
		},
		func(e *proto.TargetTargetDestroyed) {
			i.mu.Lock()
			if stop, ok := i.pages[e.TargetID]; ok {
				stop()
				delete(i.pages, e.TargetID)
			}
			hooks := i.onDestroyed
			i.mu.Unlock()
			for _, fn := range hooks {
				fn(e.TargetID)
			}
		},
	)

	pages, err := b.Pages()
	if err != nil {
		return fmt.Errorf("browser: list pages: %w", err)
	}
	for _, p := range pages {
		go i.install(ctx, p)
	}

	if startURL != "" {
		if err := i.openStart(ctx, b, startURL); err != nil {
			i.logger.Warn("browser: start page", "url", startURL, "error", err)
		}
	}

	wait()
	return ctx.Err()
}

func (i *Interceptor) openStart(ctx context.Context, b *rod.Browser, startURL string) error {
	var (
		page *rod.Page
		err  error
	)
	if i.mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return fmt.Errorf("create tab: %w", err)
	}
	i.install(ctx, page)
	return page.Navigate(startURL)
}

func (i *Interceptor) attach(ctx context.Context, b *rod.Browser, id proto.TargetTargetID) {
	page, err := b.PageFromTarget(id)
	if err != nil {
		i.logger.Debug("browser: attach", "target", id, "error", err)
		return
	}
	i.install(ctx, page)
}

// install adds the binding and the listener to page once, for the loaded
// document and every later one, then relays binding calls until ctx is
// done or the page goes away.
func (i *Interceptor) install(ctx context.Context, page *rod.Page) {
	i.mu.Lock()
	if _, ok := i.pages[page.TargetID]; ok {
		i.mu.Unlock()
		return
	}
	ctx, stop := context.WithCancel(ctx)
	i.pages[page.TargetID] = stop
	i.mu.Unlock()

	log := i.logger.With("target", page.TargetID)
	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(page); err != nil {
		log.Warn("browser: addBinding failed", "error", err)
		return
	}
	script := ClickScript()
	if _, err := page.EvalOnNewDocument(script); err != nil {
		log.Warn("browser: install listener", "error", err)
		return
	}
	if _, err := (proto.RuntimeEvaluate{Expression: script}).Call(page); err != nil {
		log.Debug("browser: listener on current document", "error", err)
	}
	log.Debug("browser: listener installed")

	go page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != BindingName {
			return
		}
		c, err := parseClick(e.Payload)
		if err != nil {
			log.Warn("browser: bad click payload", "error", err)
			return
		}
		cctx := withSource(kit.WithTransport(ctx, "cdp"), page.TargetID)
		taken := i.dispatcher.Intercept(cctx, dispatch.Click{Href: c.Href, BaseURL: c.Base, Source: string(page.TargetID)})
		if !taken {
			// The listener already cancelled the click; finish the navigation.
			go func() {
				if err := page.Navigate(c.Href); err != nil {
					log.Warn("browser: fallback navigation", "url", c.Href, "error", err)
				}
			}()
		}
	})()
}
