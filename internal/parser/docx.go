package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/fumiama/go-docx"

	"github.com/dgallion1/redliner/internal/doctree"
)

// DOCXParser handles .docx files. Heading styles open sections; table rows
// become one paragraph each with cells separated by " | ".
type DOCXParser struct{}

func (p *DOCXParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	b := doctree.NewBuilder(titleFromName(filename, ".docx"))
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			text := strings.TrimSpace(docxRuns(it))
			if text == "" {
				continue
			}
			if level := docxHeadingLevel(it); level > 0 {
				b.Heading(level, text)
			} else {
				b.Text(text)
			}
		case *docx.Table:
			for _, row := range it.TableRows {
				if line := docxRow(row); line != "" {
					b.Text(line)
				}
			}
		}
	}
	return b.Tree(), nil
}

// docxHeadingLevel reads "Heading2" or "heading 2" style names.
func docxHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	level, ok := strings.CutPrefix(style, "heading")
	if !ok || len(level) != 1 || level[0] < '1' || level[0] > '6' {
		return 0
	}
	return int(level[0] - '0')
}

// docxRuns renders a paragraph's visible text, including hyperlink labels.
// Soft line breaks stay inside the paragraph.
func docxRuns(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		switch c := child.(type) {
		case *docx.Run:
			writeRun(&buf, c)
		case *docx.Hyperlink:
			writeRun(&buf, &c.Run)
		}
	}
	return buf.String()
}

func writeRun(buf *strings.Builder, run *docx.Run) {
	for _, rc := range run.Children {
		switch t := rc.(type) {
		case *docx.Text:
			buf.WriteString(t.Text)
		case *docx.Tab:
			buf.WriteByte('\t')
		case *docx.BarterRabbet:
			buf.WriteByte('\n')
		}
	}
}

func docxRow(row *docx.WTableRow) string {
	cells := make([]string, 0, len(row.TableCells))
	empty := true
	for _, cell := range row.TableCells {
		var parts []string
		for _, para := range cell.Paragraphs {
			if t := strings.TrimSpace(docxRuns(para)); t != "" {
				parts = append(parts, t)
			}
		}
		text := strings.Join(parts, " ")
		if text != "" {
			empty = false
		}
		cells = append(cells, text)
	}
	if empty {
		return ""
	}
	return strings.Join(cells, " | ")
}
