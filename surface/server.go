// Package surface serves the presentation surfaces of open sessions, the
// /open entry point, the JSON API and the MCP endpoint on one chi router.
package surface

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docpeek/api"
	"github.com/hazyhaar/docpeek/dispatch"
	"github.com/hazyhaar/docpeek/retrieve"
	"github.com/hazyhaar/docpeek/session"
	"github.com/hazyhaar/docpeek/shield"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// Config wires a Server.
type Config struct {
	Sessions *session.Manager
	// Dispatcher backs GET /open. It should have no Opener: the HTTP
	// response itself navigates to the surface.
	Dispatcher *dispatch.Dispatcher
	API        *api.Service
	// MCP is mounted at /mcp when set.
	MCP     http.Handler
	Limiter *shield.RateLimiter
	Logger  *slog.Logger
}

// Server is the HTTP side of docpeek.
type Server struct {
	sessions   *session.Manager
	dispatcher *dispatch.Dispatcher
	endpoints  api.Endpoints
	hasAPI     bool
	mcp        http.Handler
	limiter    *shield.RateLimiter
	logger     *slog.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	s := &Server{
		sessions:   cfg.Sessions,
		dispatcher: cfg.Dispatcher,
		mcp:        cfg.MCP,
		limiter:    cfg.Limiter,
		logger:     cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if cfg.API != nil {
		s.endpoints = cfg.API.Endpoints()
		s.hasAPI = true
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(s.logger, s.limiter) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		store := s.sessions.Store()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"sessions":     s.sessions.Len(),
			"handles":      store.Len(),
			"handle_bytes": store.Bytes(),
		})
	})
	r.Get("/", s.handleIndex)
	r.Get("/open", s.handleOpen)

	r.Get("/surface/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, api.SurfacePath(chi.URLParam(r, "id")), http.StatusMovedPermanently)
	})
	r.Get("/surface/{id}/", s.handleView)
	r.Post("/surface/{id}/next", s.handleMove(true))
	r.Post("/surface/{id}/prev", s.handleMove(false))
	r.Post("/surface/{id}/close", s.handleClose)
	r.Get("/surface/{id}/download", s.handleDownload)
	r.Get("/surface/{id}/raster/{file}", s.handleRaster)

	if s.hasAPI {
		r.Route("/api", func(r chi.Router) {
			r.Get("/classify", s.apiClassify)
			r.Post("/open", s.apiOpen)
			r.Get("/sessions", s.apiSessions)
			r.Delete("/sessions/{id}", s.apiClose)
			r.Get("/history", s.apiHistory)
		})
	}
	if s.mcp != nil {
		r.Handle("/mcp", s.mcp)
	}
	return r
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusFor maps operation errors to HTTP status codes.
func statusFor(err error) int {
	var fe *retrieve.FetchError
	switch {
	case errors.Is(err, api.ErrBadRequest), errors.Is(err, dispatch.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrClosed):
		return http.StatusNotFound
	case errors.As(err, &fe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		shield.GetLogger(r.Context()).Error("surface: template", "template", name, "error", err)
	}
}
