package render

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hazyhaar/docpeek/classify"
)

type sheetStrategy struct {
	maxRows int
}

func (*sheetStrategy) Kind() classify.Kind { return classify.Tabular }

type sheetRow struct {
	cells []string
	err   error
}

// Render converts exactly the first sheet of the workbook to a table. A
// row that cannot be read becomes an error row; the rest of the sheet is
// still rendered.
func (s *sheetStrategy) Render(_ context.Context, a Artifact) (Document, error) {
	data, err := a.Bytes()
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, oleMagic) {
		return nil, decodeErr(classify.Tabular, "legacy binary Office format is not supported")
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, decodeErr(classify.Tabular, "open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, decodeErr(classify.Tabular, "workbook has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, decodeErr(classify.Tabular, "sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	var (
		collected []sheetRow
		width     int
		truncated bool
	)
	for rows.Next() {
		if len(collected) >= s.maxRows {
			truncated = true
			break
		}
		cells, err := rows.Columns()
		collected = append(collected, sheetRow{cells: cells, err: err})
		if len(cells) > width {
			width = len(cells)
		}
	}
	iterErr := rows.Error()

	var sb strings.Builder
	sb.WriteString(`<div class="sheet"><p class="sheet-name">` + html.EscapeString(sheet) + `</p><table>`)
	for i, r := range collected {
		sb.WriteString("<tr>")
		if r.err != nil {
			fmt.Fprintf(&sb, `<td class="render-error" colspan="%d">Error: row %d: %s</td>`,
				max(width, 1), i+1, html.EscapeString(r.err.Error()))
			sb.WriteString("</tr>")
			continue
		}
		for c := 0; c < width; c++ {
			cell := ""
			if c < len(r.cells) {
				cell = r.cells[c]
			}
			sb.WriteString("<td>" + html.EscapeString(cell) + "</td>")
		}
		sb.WriteString("</tr>")
	}
	sb.WriteString("</table>")
	if truncated {
		fmt.Fprintf(&sb, `<p class="notice">Showing the first %d rows.</p>`, s.maxRows)
	}
	if iterErr != nil {
		sb.WriteString(string(ErrorMarkup(fmt.Errorf("sheet %q: %w", sheet, iterErr))))
	}
	sb.WriteString("</div>")
	return single(template.HTML(sb.String())), nil
}
