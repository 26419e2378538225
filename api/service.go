// Package api holds the transport-agnostic operations of docpeek (classify
// a link, open a document, list sessions, read the dispatch history) as
// kit endpoints. The HTTP JSON API and the MCP tools both call them.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/hazyhaar/docpeek/classify"
	"github.com/hazyhaar/docpeek/dispatch"
	"github.com/hazyhaar/docpeek/history"
	"github.com/hazyhaar/docpeek/kit"
	"github.com/hazyhaar/docpeek/session"
)

// HistorySource is the read side of the dispatch log.
type HistorySource interface {
	Recent(ctx context.Context, f history.Filter) ([]history.Entry, error)
}

// ErrBadRequest marks caller errors (missing or malformed arguments).
var ErrBadRequest = errors.New("bad request")

// OpenError is a failed dispatch. Its message is the alert text a user
// would have seen in the browser.
type OpenError struct {
	Err error
}

func (e *OpenError) Error() string { return dispatch.AlertMessage(e.Err) }
func (e *OpenError) Unwrap() error { return e.Err }

type ClassifyRequest struct {
	URL string `json:"url"`
}

type ClassifyResponse struct {
	URL       string        `json:"url"`
	Supported bool          `json:"supported"`
	Kind      classify.Kind `json:"kind"`
	Canonical string        `json:"canonical_url,omitempty"`
	Name      string        `json:"name,omitempty"`
}

type OpenRequest struct {
	URL string `json:"url"`
	// Page is the 1-based page to move to after opening (paginated kinds).
	Page int `json:"page,omitempty"`
	// Format is "markdown" (default) or "html".
	Format string `json:"format,omitempty"`
}

// OpenResponse carries the content region of the shown page in one of
// the two formats.
type OpenResponse struct {
	Session
	Markdown string `json:"markdown,omitempty"`
	HTML     string `json:"html,omitempty"`
}

type SessionsRequest struct{}

type CloseRequest struct {
	ID string `json:"session_id"`
}

type HistoryRequest struct {
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Failed bool   `json:"failed,omitempty"`
}

// Session is the external view of an open session.
type Session struct {
	ID          string        `json:"session_id"`
	URL         string        `json:"url"`
	Kind        classify.Kind `json:"kind"`
	Name        string        `json:"name"`
	Page        int           `json:"page,omitempty"`
	Total       int           `json:"total,omitempty"`
	Surface     string        `json:"surface_url"`
	Opened      time.Time     `json:"opened"`
	DecodeError string        `json:"decode_error,omitempty"`
}

// Service implements the operations.
type Service struct {
	sessions   *session.Manager
	dispatcher *dispatch.Dispatcher
	history    HistorySource
	publicURL  string
	md         *converter.Converter
	logger     *slog.Logger
}

// NewService wires the operations. history may be nil; publicURL is the
// externally reachable base of the surface server.
func NewService(sessions *session.Manager, d *dispatch.Dispatcher, h HistorySource, publicURL string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:   sessions,
		dispatcher: d,
		history:    h,
		publicURL:  strings.TrimSuffix(publicURL, "/"),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		logger: logger,
	}
}

// SurfacePath is the path of a session's presentation surface.
func SurfacePath(id string) string { return "/surface/" + id + "/" }

func (s *Service) view(sess *session.Session) Session {
	page, total := sess.Position()
	v := Session{
		ID:      sess.ID,
		URL:     sess.Request.URL,
		Kind:    sess.Kind(),
		Name:    sess.Name(),
		Page:    page,
		Total:   total,
		Surface: s.publicURL + SurfacePath(sess.ID),
		Opened:  sess.Opened,
	}
	if err := sess.DecodeErr(); err != nil {
		v.DecodeError = err.Error()
	}
	return v
}

// Classify reports whether a URL is a previewable document.
func (s *Service) Classify(_ context.Context, req any) (any, error) {
	r := req.(*ClassifyRequest)
	if r.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrBadRequest)
	}
	resp := &ClassifyResponse{URL: r.URL, Kind: classify.Classify(r.URL)}
	resp.Supported = resp.Kind != classify.None
	if resp.Supported {
		if cr, err := classify.NewRequest(r.URL); err == nil {
			resp.Canonical = cr.URL
			resp.Name = cr.Name
		}
	}
	return resp, nil
}

// Open dispatches a document URL and returns the opened session with the
// content of the requested page.
func (s *Service) Open(ctx context.Context, req any) (any, error) {
	r := req.(*OpenRequest)
	if !classify.IsSupported(r.URL) {
		return nil, fmt.Errorf("%w: %q is not a supported document URL", ErrBadRequest, r.URL)
	}
	sess, err := s.dispatcher.Dispatch(ctx, r.URL)
	if err != nil {
		return nil, &OpenError{Err: err}
	}
	ctx = kit.WithSessionID(ctx, sess.ID)

	for page, _ := sess.Position(); page > 0 && page < r.Page; page, _ = sess.Position() {
		if moved, err := sess.Next(ctx); err != nil || !moved {
			break
		}
	}

	content, err := sess.Content()
	if err != nil {
		return nil, err
	}
	resp := &OpenResponse{Session: s.view(sess)}
	if r.Format == "html" {
		resp.HTML = string(content)
		return resp, nil
	}
	if resp.Markdown, err = s.md.ConvertString(string(content)); err != nil {
		return nil, fmt.Errorf("markdown: %w", err)
	}
	return resp, nil
}

// Sessions lists the open sessions.
func (s *Service) Sessions(_ context.Context, _ any) (any, error) {
	list := s.sessions.List()
	out := make([]Session, len(list))
	for i, sess := range list {
		out[i] = s.view(sess)
	}
	return out, nil
}

// Close closes a session by ID.
func (s *Service) Close(_ context.Context, req any) (any, error) {
	r := req.(*CloseRequest)
	sess, err := s.sessions.Get(r.ID)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Close(sess); err != nil {
		return nil, err
	}
	return map[string]string{"session_id": r.ID, "status": "closed"}, nil
}

// History returns recent dispatches.
func (s *Service) History(ctx context.Context, req any) (any, error) {
	if s.history == nil {
		return []history.Entry{}, nil
	}
	r := req.(*HistoryRequest)
	f := history.Filter{Limit: r.Limit, Offset: r.Offset, FailedOnly: r.Failed}
	if r.Kind != "" {
		if f.Kind = classify.ParseKind(r.Kind); f.Kind == classify.None {
			return nil, fmt.Errorf("%w: unknown kind %q", ErrBadRequest, r.Kind)
		}
	}
	entries, err := s.history.Recent(ctx, f)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}

// Endpoints is the set of operations, each wrapped with logging.
type Endpoints struct {
	Classify kit.Endpoint
	Open     kit.Endpoint
	Sessions kit.Endpoint
	Close    kit.Endpoint
	History  kit.Endpoint
}

// Endpoints returns the operations wrapped in the shared middleware.
func (s *Service) Endpoints() Endpoints {
	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Logging(s.logger, name))(ep)
	}
	return Endpoints{
		Classify: wrap("classify", s.Classify),
		Open:     wrap("open", s.Open),
		Sessions: wrap("sessions", s.Sessions),
		Close:    wrap("close", s.Close),
		History:  wrap("history", s.History),
	}
}
