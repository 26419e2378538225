package render

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"html/template"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/docpeek/classify"
)

// BlankSlide is shown for a slide without any text run.
const BlankSlide = "(blank slide)"

const drawingMLNS = "http://schemas.openxmlformats.org/drawingml/2006/main"

var slideEntryRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

type slidesStrategy struct{}

func (*slidesStrategy) Kind() classify.Kind { return classify.Slides }

// Render extracts the text runs of every slide. A slide whose XML cannot
// be read shows an inline error; the others stay viewable.
func (*slidesStrategy) Render(_ context.Context, a Artifact) (Document, error) {
	data, err := a.Bytes()
	if err != nil {
		return nil, err
	}
	zr, err := openOOXML(classify.Slides, data)
	if err != nil {
		return nil, err
	}

	entries := slideEntries(zr)
	if len(entries) == 0 {
		return nil, decodeErr(classify.Slides, "no slides found in archive")
	}

	pages := make([]template.HTML, len(entries))
	for i, f := range entries {
		runs, err := slideText(f)
		var body string
		switch {
		case err != nil:
			body = string(ErrorMarkup(fmt.Errorf("slide %d: %w", i+1, err)))
		case len(runs) == 0:
			body = `<p class="blank">` + BlankSlide + `</p>`
		default:
			body = `<p>` + html.EscapeString(strings.Join(runs, " ")) + `</p>`
		}
		pages[i] = template.HTML(fmt.Sprintf(
			`<section class="slide"><h2>Slide %d / %d</h2><div class="slide-body">%s</div></section>`,
			i+1, len(entries), body))
	}
	return &staticDocument{pages: pages}, nil
}

// slideEntries returns the slide definitions in presentation order. Zip
// directory order is not guaranteed ascending, and a lexical sort would
// put slide10 before slide2, so entries are sorted by their number.
func slideEntries(zr *zip.Reader) []*zip.File {
	type numbered struct {
		n int
		f *zip.File
	}
	var found []numbered
	for _, f := range zr.File {
		m := slideEntryRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, numbered{n: n, f: f})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].n < found[j].n })

	out := make([]*zip.File, len(found))
	for i, s := range found {
		out[i] = s.f
	}
	return out
}

// slideText collects the DrawingML text runs (<a:t>) of one slide.
func slideText(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var (
		runs []string
		run  strings.Builder
		inT  bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return runs, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if isTextRun(t.Name) {
				inT = true
				run.Reset()
			}
		case xml.CharData:
			if inT {
				run.Write(t)
			}
		case xml.EndElement:
			if isTextRun(t.Name) && inT {
				inT = false
				if s := strings.TrimSpace(run.String()); s != "" {
					runs = append(runs, s)
				}
			}
		}
	}
}

func isTextRun(n xml.Name) bool {
	return n.Local == "t" && (n.Space == drawingMLNS || n.Space == "a")
}
