package render

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"html/template"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/docpeek/classify"
)

type pdfStrategy struct{}

func (*pdfStrategy) Kind() classify.Kind { return classify.PDF }

// Render reads the cross-reference structure and page tree only; pages
// are loaded one at a time by Page.
func (*pdfStrategy) Render(_ context.Context, a Artifact) (Document, error) {
	data, err := a.Bytes()
	if err != nil {
		return nil, err
	}

	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, decodeErr(classify.PDF, "pdfcpu read: %w", err)
	}
	if pctx.PageCount <= 0 {
		return nil, decodeErr(classify.PDF, "document has no pages")
	}
	return &pdfDocument{art: a, pctx: pctx, pages: pctx.PageCount}, nil
}

// pdfDocument keeps the parsed page tree for text extraction. Page
// exports go back to the artifact so a released session cannot be read.
type pdfDocument struct {
	art   Artifact
	mu    sync.Mutex
	pctx  *model.Context
	pages int
}

func (d *pdfDocument) Len() int { return d.pages }

// Page renders page index (0-based): the single-page raster export next
// to the text layer pulled from the page content stream.
func (d *pdfDocument) Page(_ context.Context, index int) (template.HTML, error) {
	if index < 0 || index >= d.pages {
		return "", &ErrPageRange{Index: index, Len: d.pages}
	}
	if _, err := d.art.Bytes(); err != nil {
		return "", err
	}

	d.mu.Lock()
	text := extractPageText(d.pctx, index+1)
	d.mu.Unlock()

	var sb strings.Builder
	pageNr := strconv.Itoa(index + 1)
	sb.WriteString(`<figure class="pdf-page" data-page="` + pageNr + `">`)
	sb.WriteString(`<object class="page-raster" type="application/pdf" data="raster/` + pageNr + `.pdf">`)
	sb.WriteString(`<p>Page ` + pageNr + ` cannot be displayed inline.</p></object>`)
	if text != "" {
		sb.WriteString(`<figcaption class="text-layer">` + html.EscapeString(text) + `</figcaption>`)
	}
	sb.WriteString(`</figure>`)
	return template.HTML(sb.String()), nil
}

// Raster exports page index as a standalone one-page PDF.
func (d *pdfDocument) Raster(_ context.Context, index int) ([]byte, error) {
	if index < 0 || index >= d.pages {
		return nil, &ErrPageRange{Index: index, Len: d.pages}
	}
	data, err := d.art.Bytes()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	conf := model.NewDefaultConfiguration()
	if err := api.Trim(bytes.NewReader(data), &out, []string{strconv.Itoa(index + 1)}, conf); err != nil {
		return nil, fmt.Errorf("render pdf: page %d: %w", index+1, err)
	}
	return out.Bytes(), nil
}

// extractPageText extracts text from a single PDF page via pdfcpu content stream.
func extractPageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return extractTextFromStream(data)
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)

// extractTextFromStream walks the text-showing operators of a content
// stream: Tj, TJ, ' and the positioning operators Td, TD, T*.
func extractTextFromStream(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}

	return cleanPDFText(sb.String())
}

// decodePDFString handles the escape sequences of a literal string.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] < '0' || raw[i] > '7' {
				sb.WriteByte(raw[i])
				continue
			}
			// Octal escape, up to three digits.
			val := int(raw[i] - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}

// cleanPDFText collapses whitespace and drops non-printable runes.
func cleanPDFText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else if unicode.IsPrint(r) {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
