// Package render turns fetched document bytes into navigable HTML.
//
// One Strategy exists per classify.Kind:
//   - pdf   — pdfcpu page count; each page loaded on demand as a
//     single-page PDF (rasterized by the browser) plus its text layer
//   - pptx  — archive/zip + encoding/xml; one view per slide, ordered by
//     the slide number embedded in the entry name
//   - docx  — word/document.xml converted to sanitized HTML in one pass
//   - xlsx  — excelize; first sheet only, as an HTML table
//   - txt   — charset detection, escaped into <pre>
//
// Decoding problems are scoped: a strategy that cannot read the bytes at
// all returns a *DecodeError, and a problem inside an otherwise readable
// document is rendered inline with ErrorMarkup next to whatever could be
// decoded.
//
// Usage:
//
//	reg := render.NewRegistry(render.Config{})
//	s, _ := reg.For(classify.PDF)
//	doc, err := s.Render(ctx, artifact)
//	page, err := doc.Page(ctx, 0)
package render

import (
	"context"
	"fmt"
	"html"
	"html/template"
	"log/slog"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/docpeek/classify"
)

// Artifact is the read side of a fetched document. Bytes fails once the
// owning session released the underlying handle.
type Artifact interface {
	Bytes() ([]byte, error)
	ContentType() string
}

// Document is a rendered document: Len views, each loaded by Page.
// Single-view kinds have Len() == 1.
type Document interface {
	Len() int
	Page(ctx context.Context, index int) (template.HTML, error)
}

// Rasterizer is implemented by documents whose pages can be exported as
// standalone files for the browser to draw (PDF).
type Rasterizer interface {
	Raster(ctx context.Context, index int) ([]byte, error)
}

// Strategy decodes one kind of document.
type Strategy interface {
	Kind() classify.Kind
	Render(ctx context.Context, a Artifact) (Document, error)
}

// DecodeError means the bytes could not be read as the expected format.
type DecodeError struct {
	Kind classify.Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(k classify.Kind, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: k, Err: fmt.Errorf(format, args...)}
}

// ErrorMarkup is the inline error shown in place of content that failed
// to decode.
func ErrorMarkup(err error) template.HTML {
	return template.HTML(`<p class="render-error" role="alert">Error: ` + html.EscapeString(err.Error()) + `</p>`)
}

// ErrPageRange is returned for a page index outside [0, Len).
type ErrPageRange struct {
	Index, Len int
}

func (e *ErrPageRange) Error() string {
	return fmt.Sprintf("render: page %d out of range [0,%d)", e.Index, e.Len)
}

// Config configures the strategies.
type Config struct {
	// MaxRows caps the rows rendered from a spreadsheet (default: 5000).
	MaxRows int

	// Policy sanitizes converted markup (default: bluemonday UGC policy).
	Policy *bluemonday.Policy

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxRows <= 0 {
		c.MaxRows = 5000
	}
	if c.Policy == nil {
		c.Policy = bluemonday.UGCPolicy()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Registry maps every kind to its strategy.
type Registry struct {
	strategies [classify.NumKinds]Strategy
	logger     *slog.Logger
}

// NewRegistry registers the built-in strategy for every supported kind.
func NewRegistry(cfg Config) *Registry {
	cfg.defaults()
	r := &Registry{logger: cfg.Logger}
	r.Register(&pdfStrategy{})
	r.Register(&slidesStrategy{})
	r.Register(&docxStrategy{policy: cfg.Policy})
	r.Register(&sheetStrategy{maxRows: cfg.MaxRows})
	r.Register(&textStrategy{})
	return r
}

// Register installs s for its kind, replacing any previous strategy.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Kind()] = s
}

// For returns the strategy for k.
func (r *Registry) For(k classify.Kind) (Strategy, error) {
	if k == classify.None || int(k) >= len(r.strategies) || r.strategies[k] == nil {
		return nil, fmt.Errorf("render: no strategy for kind %s", k)
	}
	return r.strategies[k], nil
}

// staticDocument holds views that were fully rendered up front.
type staticDocument struct {
	pages []template.HTML
}

func (d *staticDocument) Len() int { return len(d.pages) }

func (d *staticDocument) Page(_ context.Context, index int) (template.HTML, error) {
	if index < 0 || index >= len(d.pages) {
		return "", &ErrPageRange{Index: index, Len: len(d.pages)}
	}
	return d.pages[index], nil
}

// single wraps one rendered view.
func single(h template.HTML) *staticDocument {
	return &staticDocument{pages: []template.HTML{h}}
}
