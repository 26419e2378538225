// Command docpeek opens office documents linked from web pages in a
// preview tab instead of downloading them.
//
// Usage:
//
//	docpeek -config docpeek.yaml
//	docpeek -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/docpeek/api"
	"github.com/hazyhaar/docpeek/browser"
	"github.com/hazyhaar/docpeek/dispatch"
	"github.com/hazyhaar/docpeek/history"
	"github.com/hazyhaar/docpeek/horosafe"
	"github.com/hazyhaar/docpeek/internal/config"
	"github.com/hazyhaar/docpeek/render"
	"github.com/hazyhaar/docpeek/retrieve"
	"github.com/hazyhaar/docpeek/session"
	"github.com/hazyhaar/docpeek/shield"
	"github.com/hazyhaar/docpeek/surface"
)

func main() {
	configPath := flag.String("config", "", "path to docpeek.yaml config file")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	noBrowser := flag.Bool("no-browser", false, "serve the surfaces, API and MCP tools without Chrome")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "docpeek:", err)
		os.Exit(2)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *noBrowser {
		cfg.Browser.Disabled = true
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("docpeek: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var hist *history.Store
	if cfg.History.Enabled() {
		var err error
		hist, err = history.Open(cfg.History.Path, history.WithLogger(logger))
		if err != nil {
			return err
		}
		defer hist.Close()
	}

	registry := render.NewRegistry(render.Config{MaxRows: cfg.Render.MaxRows})
	sessions := session.NewManager(registry,
		session.WithIdleTTL(cfg.Sessions.IdleTTL),
		session.WithLogger(logger),
	)
	if hist != nil {
		sessions.OnClose(hist.SessionClosed)
	}

	var mgr *browser.Manager
	if !cfg.Browser.Disabled {
		mgr = browser.NewManager(browser.Config{
			RemoteURL:   cfg.Browser.Remote,
			Bin:         cfg.Browser.Bin,
			Headless:    cfg.Browser.Headless,
			UserDataDir: cfg.Browser.UserDataDir,
			Xvfb:        cfg.Browser.Xvfb,
			XvfbDisplay: cfg.Browser.XvfbDisplay,
			Stealth:     cfg.Browser.Stealth,
			Logger:      logger,
		})
	}

	retrieveOpts := []retrieve.Option{
		retrieve.WithMaxBytes(cfg.Fetch.MaxBytes),
		retrieve.WithTimeout(cfg.Fetch.Timeout),
		retrieve.WithLogger(logger),
	}
	if cfg.Fetch.BlockPrivate {
		retrieveOpts = append(retrieveOpts, retrieve.WithURLCheck(horosafe.ValidateURL))
	}
	if mgr != nil {
		retrieveOpts = append(retrieveOpts, retrieve.WithCookieSource(browser.NewCookies(mgr)))
	}
	fetcher := retrieve.New(retrieveOpts...)

	// GET /open, the API and MCP present the session themselves.
	baseOpts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithTimeout(cfg.Sessions.DispatchTimeout),
		dispatch.WithBaseContext(ctx),
	}
	if hist != nil {
		baseOpts = append(baseOpts, dispatch.WithRecorder(hist))
	}
	direct := dispatch.New(fetcher, sessions, baseOpts...)
	dispatchers := []*dispatch.Dispatcher{direct}

	var svc *api.Service
	if hist != nil {
		svc = api.NewService(sessions, direct, hist, cfg.BaseURL(), logger)
	} else {
		svc = api.NewService(sessions, direct, nil, cfg.BaseURL(), logger)
	}
	var mcpHandler http.Handler
	if !cfg.MCP.Disabled {
		mcpHandler = svc.MCPHandler()
	}

	limiter := shield.NewRateLimiter(cfg.RateLimits)
	limiter.StartGC(ctx.Done(), time.Minute)

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: surface.New(surface.Config{
			Sessions:   sessions,
			Dispatcher: direct,
			API:        svc,
			MCP:        mcpHandler,
			Limiter:    limiter,
			Logger:     logger,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("docpeek: surface server starting", "addr", cfg.Listen, "public_url", cfg.BaseURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("surface server: %w", err)
		}
	}()

	if mgr != nil {
		if _, err := mgr.Start(ctx); err != nil {
			shutdown(srv, logger)
			return err
		}
		defer mgr.Close()

		tabs := browser.NewTabs(mgr, sessions, cfg.BaseURL(), logger)
		clickOpts := append([]dispatch.Option{
			dispatch.WithOpener(tabs),
			dispatch.WithNotifier(browser.NewAlerts(mgr)),
		}, baseOpts...)
		clicks := dispatch.New(fetcher, sessions, clickOpts...)
		dispatchers = append(dispatchers, clicks)

		icpt := browser.NewInterceptor(mgr, clicks, logger)
		icpt.OnTargetDestroyed(tabs.TargetDestroyed)
		go func() {
			if err := icpt.Run(ctx, cfg.StartURL); err != nil && ctx.Err() == nil {
				errc <- fmt.Errorf("interceptor: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("docpeek: shutting down")
	case runErr = <-errc:
	}

	shutdown(srv, logger)
	// Pipelines in flight are cancelled with ctx; none may open a
	// session after CloseAll.
	cancel()
	for _, d := range dispatchers {
		d.Wait()
	}
	sessions.CloseAll()
	return runErr
}

func shutdown(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("docpeek: shutdown", "error", err)
	}
}
