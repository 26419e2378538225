// Package classify decides whether a link points at a previewable document
// and which renderer handles it.
//
// Matching is syntactic: the URL path must end in one of the supported
// extensions (case-insensitive). The query string never participates and
// the remote content is never probed, so a link can be ignored (or
// claimed) even when the eventual bytes disagree with the extension.
//
// Usage:
//
//	if classify.IsSupported(href) {
//	    req, err := classify.NewRequest(href)
//	    ...
//	}
package classify

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Kind identifies a document family. The zero value None means
// "not a document we preview".
type Kind uint8

const (
	None Kind = iota
	PDF
	Slides
	Markup
	Tabular
	Text

	numKinds
)

// NumKinds is the size of a table indexed by Kind (None included).
const NumKinds = int(numKinds)

var kindNames = [numKinds]string{
	None:    "none",
	PDF:     "pdf",
	Slides:  "pptx",
	Markup:  "docx",
	Tabular: "xlsx",
	Text:    "txt",
}

func (k Kind) String() string {
	if k >= numKinds {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Paginated reports whether the kind is shown one page or slide at a time.
func (k Kind) Paginated() bool {
	return k == PDF || k == Slides
}

// Kinds returns every supported kind in precedence order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, p.kind)
	}
	return out
}

// ParseKind maps a kind name (as returned by String) back to a Kind.
func ParseKind(s string) Kind {
	for k := PDF; k < numKinds; k++ {
		if kindNames[k] == strings.ToLower(s) {
			return k
		}
	}
	return None
}

// MarshalText encodes the kind by name in JSON and YAML.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText is the inverse of MarshalText; unknown names decode to None.
func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}

type pattern struct {
	kind   Kind
	source string
	re     *regexp.Regexp
}

// patterns is ordered by precedence; the first match wins.
var patterns = []pattern{
	{kind: PDF, source: `\.pdf$`},
	{kind: Slides, source: `\.pptx?$`},
	{kind: Markup, source: `\.docx?$`},
	{kind: Tabular, source: `\.xlsx?$`},
	{kind: Text, source: `\.txt$`},
}

func init() {
	for i := range patterns {
		patterns[i].re = regexp.MustCompile(`(?i)` + patterns[i].source)
	}
}

// Patterns returns the extension regular expressions (without flags) in
// precedence order, keyed by kind name. The in-page click listener is
// generated from this table.
func Patterns() []PatternSource {
	out := make([]PatternSource, len(patterns))
	for i, p := range patterns {
		out[i] = PatternSource{Kind: p.kind.String(), Source: p.source}
	}
	return out
}

// PatternSource is the exported form of an extension pattern.
type PatternSource struct {
	Kind   string `json:"kind"`
	Source string `json:"source"`
}

// ErrNotAbsolute is returned for relative or schemeless URLs.
var ErrNotAbsolute = errors.New("classify: URL is not absolute")

func parse(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	if !u.IsAbs() {
		return nil, ErrNotAbsolute
	}
	return u, nil
}

func kindOfPath(p string) Kind {
	for _, pat := range patterns {
		if pat.re.MatchString(p) {
			return pat.kind
		}
	}
	return None
}

// Classify returns the kind of document rawURL points at, or None when the
// URL does not parse or no pattern matches its path.
func Classify(rawURL string) Kind {
	u, err := parse(rawURL)
	if err != nil {
		return None
	}
	return kindOfPath(u.Path)
}

// IsSupported reports whether rawURL should be intercepted.
func IsSupported(rawURL string) bool {
	return Classify(rawURL) != None
}

// Canonicalize removes the download-forcing "forcedownload" query
// parameter and nothing else. The remaining pairs keep their original
// encoding and order.
func Canonicalize(rawURL string) (string, error) {
	u, err := parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.RawQuery == "" {
		u.ForceQuery = false
		return u.String(), nil
	}

	kept := make([]string, 0, 4)
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil && k == forceDownloadParam {
			continue
		}
		kept = append(kept, pair)
	}
	u.RawQuery = strings.Join(kept, "&")
	u.ForceQuery = false
	return u.String(), nil
}

const forceDownloadParam = "forcedownload"

// Request is the canonical form of one intercepted link. It is built once
// per interception and never mutated.
type Request struct {
	URL  string `json:"url"`
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

// NewRequest canonicalizes rawURL and classifies the result.
func NewRequest(rawURL string) (Request, error) {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return Request{}, err
	}
	kind := Classify(canonical)
	if kind == None {
		return Request{}, fmt.Errorf("classify: unsupported document URL %q", rawURL)
	}
	return Request{URL: canonical, Kind: kind, Name: fileName(canonical, kind)}, nil
}

func fileName(canonical string, kind Kind) string {
	u, err := url.Parse(canonical)
	if err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			return base
		}
	}
	return "document." + kind.String()
}
