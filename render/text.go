package render

import (
	"context"
	"html"
	"html/template"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"

	"github.com/hazyhaar/docpeek/classify"
)

type textStrategy struct{}

func (*textStrategy) Kind() classify.Kind { return classify.Text }

// Render decodes the payload using the charset from Content-Type, a BOM,
// or a guess from the bytes, in that order.
func (*textStrategy) Render(_ context.Context, a Artifact) (Document, error) {
	data, err := a.Bytes()
	if err != nil {
		return nil, err
	}
	text, err := decodeText(data, a.ContentType())
	if err != nil {
		return nil, decodeErr(classify.Text, "decode text: %w", err)
	}
	return single(template.HTML(`<pre class="text">` + html.EscapeString(text) + `</pre>`)), nil
}

func decodeText(data []byte, contentType string) (string, error) {
	enc, _, _ := charset.DetermineEncoding(data, contentType)
	if enc == nil {
		enc = encoding.Nop
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(string(out), "\ufeff"), nil
}
