package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/redliner/internal/doctree"
)

// rowBatch is how many data rows share one section.
const rowBatch = 20

// CSVParser handles CSV files. The first row is treated as headers.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return tableTree(titleFromName(filename, ".csv"), "", records), nil
}

// tableTree renders rows as "header: cell" lines, batched into sections.
// prefix is prepended to section titles, e.g. a sheet name.
func tableTree(title, prefix string, records [][]string) *doctree.DocTree {
	tree := &doctree.DocTree{Title: title}
	if len(records) == 0 {
		return tree
	}
	headers := records[0]
	rows := records[1:]

	for i := 0; i < len(rows); i += rowBatch {
		end := min(i+rowBatch, len(rows))
		var text strings.Builder
		for _, row := range rows[i:end] {
			cells := make([]string, 0, len(row))
			for j, cell := range row {
				if j < len(headers) && headers[j] != "" {
					cells = append(cells, headers[j]+": "+cell)
				} else {
					cells = append(cells, cell)
				}
			}
			text.WriteString(strings.Join(cells, ", "))
			text.WriteByte('\n')
		}
		tree.Children = append(tree.Children, &doctree.DocNode{
			// 1-indexed, skipping the header row.
			Title: fmt.Sprintf("%sRows %d-%d", prefix, i+2, end+1),
			Text:  strings.TrimSpace(text.String()),
		})
	}
	return tree
}
