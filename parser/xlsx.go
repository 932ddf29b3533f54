package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/brunobiangulo/docanalysis/docerr"
	"github.com/xuri/excelize/v2"
)

// XLSXExtractor emits every sheet as a "=== Sheet: X ===" banner followed by
// tab-separated rows.
type XLSXExtractor struct{}

func (e *XLSXExtractor) SupportedTypes() []Type { return []Type{TypeXLSX} }

func (e *XLSXExtractor) Extract(ctx context.Context, doc *Document) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(doc.Data))
	if err != nil {
		return nil, docerr.Wrap(docerr.KindCorruption, err, "无法解析XLSX文件 (cannot parse xlsx)")
	}
	defer f.Close()

	var sheets []sheetRows
	for _, name := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(name)
		if err != nil {
			continue
		}
		sheets = append(sheets, sheetRows{name: name, rows: rows})
	}

	meta := map[string]string{"sheets": fmt.Sprint(len(sheets))}
	if props, err := f.GetDocProps(); err == nil && props != nil {
		if props.Title != "" {
			meta["title"] = props.Title
		}
		if props.Subject != "" {
			meta["subject"] = props.Subject
		}
		if props.Creator != "" {
			meta["author"] = props.Creator
		}
	}
	return &Result{Text: renderSheets(sheets), Method: "xlsx", Metadata: meta, Attempts: 1}, nil
}

type sheetRows struct {
	name string
	rows [][]string
}

// renderSheets is shared by the XLSX and XLS extractors. Empty rows and
// trailing empty cells are dropped.
func renderSheets(sheets []sheetRows) string {
	var out strings.Builder
	for _, s := range sheets {
		var body strings.Builder
		for _, row := range s.rows {
			end := len(row)
			for end > 0 && strings.TrimSpace(row[end-1]) == "" {
				end--
			}
			if end == 0 {
				continue
			}
			cells := make([]string, end)
			for i := range end {
				cells[i] = strings.Join(strings.Fields(row[i]), " ")
			}
			body.WriteString(strings.Join(cells, "\t"))
			body.WriteByte('\n')
		}
		if body.Len() == 0 {
			continue
		}
		fmt.Fprintf(&out, "=== Sheet: %s ===\n%s\n", s.name, body.String())
	}
	return out.String()
}
