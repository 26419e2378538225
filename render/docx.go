package render

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"html/template"
	"io"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/docpeek/classify"
)

// oleMagic starts every legacy binary Office file (.doc, .xls, .ppt).
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

func openOOXML(k classify.Kind, data []byte) (*zip.Reader, error) {
	if bytes.HasPrefix(data, oleMagic) {
		return nil, decodeErr(k, "legacy binary Office format is not supported")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, decodeErr(k, "open archive: %w", err)
	}
	return zr, nil
}

func findEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

type docxStrategy struct {
	policy *bluemonday.Policy
}

func (*docxStrategy) Kind() classify.Kind { return classify.Markup }

// Render converts word/document.xml to HTML in a single pass.
func (s *docxStrategy) Render(_ context.Context, a Artifact) (Document, error) {
	data, err := a.Bytes()
	if err != nil {
		return nil, err
	}
	zr, err := openOOXML(classify.Markup, data)
	if err != nil {
		return nil, err
	}
	entry := findEntry(zr, "word/document.xml")
	if entry == nil {
		return nil, decodeErr(classify.Markup, "word/document.xml not found in archive")
	}
	rc, err := entry.Open()
	if err != nil {
		return nil, decodeErr(classify.Markup, "open document.xml: %w", err)
	}
	defer rc.Close()

	body, convErr := docxToHTML(rc)
	if convErr != nil && body == "" {
		return nil, decodeErr(classify.Markup, "document.xml: %w", convErr)
	}

	out := `<article class="docx">` + s.policy.Sanitize(body) + `</article>`
	if convErr != nil {
		out += string(ErrorMarkup(fmt.Errorf("document truncated: %w", convErr)))
	}
	return single(template.HTML(out)), nil
}

// docxToHTML walks the WordprocessingML token stream. On a malformed
// stream it returns the markup produced so far together with the error.
func docxToHTML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		out       strings.Builder
		para      strings.Builder
		inPara    bool
		inText    bool
		inRunProp bool
		bold      bool
		italic    bool
		style     string
		listItem  bool
		inList    bool
	)

	closeList := func() {
		if inList {
			out.WriteString("</ul>")
			inList = false
		}
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			closeList()
			return out.String(), err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				para.Reset()
				style = ""
				listItem = false
			case "pStyle":
				style = attrVal(t, "val")
			case "numPr":
				listItem = true
			case "r":
				bold, italic = false, false
			case "rPr":
				inRunProp = true
			case "b":
				if inRunProp {
					bold = toggleOn(t)
				}
			case "i":
				if inRunProp {
					italic = toggleOn(t)
				}
			case "t":
				inText = true
			case "tab":
				if inPara {
					para.WriteByte(' ')
				}
			case "br":
				if inPara {
					para.WriteString("<br>")
				}
			case "tbl":
				closeList()
				out.WriteString("<table>")
			case "tr":
				out.WriteString("<tr>")
			case "tc":
				out.WriteString("<td>")
			}

		case xml.CharData:
			if inPara && inText {
				text := html.EscapeString(string(t))
				if bold {
					text = "<strong>" + text + "</strong>"
				}
				if italic {
					text = "<em>" + text + "</em>"
				}
				para.WriteString(text)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "rPr":
				inRunProp = false
			case "p":
				if !inPara {
					continue
				}
				inPara = false
				text := strings.TrimSpace(para.String())
				if text == "" {
					continue
				}
				if listItem {
					if !inList {
						out.WriteString("<ul>")
						inList = true
					}
					out.WriteString("<li>" + text + "</li>")
					continue
				}
				closeList()
				if level := docxHeadingLevel(style); level > 0 {
					fmt.Fprintf(&out, "<h%d>%s</h%d>", level, text, level)
				} else {
					out.WriteString("<p>" + text + "</p>")
				}
			case "tc":
				closeList()
				out.WriteString("</td>")
			case "tr":
				out.WriteString("</tr>")
			case "tbl":
				out.WriteString("</table>")
			}
		}
	}
	closeList()
	return out.String(), nil
}

func attrVal(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// toggleOn reads an on/off property such as <w:b/> or <w:b w:val="0"/>.
func toggleOn(t xml.StartElement) bool {
	switch strings.ToLower(attrVal(t, "val")) {
	case "0", "false", "off", "none":
		return false
	}
	return true
}

// docxHeadingLevel extracts the heading level from a paragraph style name.
// e.g. "Heading1" → 1, "Heading2" → 2, "Title" → 1, etc.
func docxHeadingLevel(style string) int {
	lower := strings.ToLower(style)

	switch lower {
	case "title":
		return 1
	case "subtitle":
		return 2
	}

	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if rest, ok := strings.CutPrefix(lower, prefix); ok {
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
				return int(rest[0] - '0')
			}
		}
	}
	return 0
}
