package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dgallion1/redliner/internal/doctree"
)

// XLSXParser handles Excel workbooks. Each sheet becomes a section whose
// rows are rendered like CSV.
type XLSXParser struct{}

func (p *XLSXParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	tree := &doctree.DocTree{Title: titleFromName(filename, ".xlsx")}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		sub := tableTree(sheet, "", rows)
		node := &doctree.DocNode{Title: sheet, Children: sub.Children}
		if len(rows) == 1 {
			node.Text = strings.Join(rows[0], "\t")
		}
		tree.Children = append(tree.Children, node)
	}
	return tree, nil
}
