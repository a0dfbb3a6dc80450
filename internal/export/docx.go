package export

import (
	"io"
	"strings"

	"github.com/fumiama/go-docx"

	"github.com/dgallion1/redliner/internal/redline"
)

// Run colors for the two sides of a suggestion.
const (
	docxOriginalColor  = "B91C1C"
	docxSuggestedColor = "15803D"
)

// docx writes the current content with pending suggestions as colored runs:
// the original text in italics and the suggested text underlined, followed
// by the explanation in the suggestion's type color.
func (e Exporter) docx(w io.Writer, doc *redline.Document) error {
	palette := e.palette()
	out := docx.New().WithDefaultTheme()

	title := doc.Metadata.FileName
	if title == "" {
		title = doc.ID
	}
	out.AddParagraph().AddText(title).Bold().Size("32")

	content := doc.CurrentContent
	para := out.AddParagraph()
	// writePlain emits text, opening a new paragraph at every line break.
	writePlain := func(text string) {
		for i, line := range strings.Split(text, "\n") {
			if i > 0 {
				para = out.AddParagraph()
			}
			if line = strings.TrimRight(line, "\r"); line != "" {
				para.AddText(line)
			}
		}
	}

	pos := 0
	for _, s := range e.pending(doc) {
		writePlain(content[pos:s.StartPos])
		para.AddText(content[s.StartPos:s.EndPos]).Color(docxOriginalColor).Italic()
		para.AddText(s.SuggestedText).Color(docxSuggestedColor).Underline("single")
		if s.Explanation != "" {
			color := strings.TrimPrefix(palette.Types[s.Type], "#")
			if color == "" {
				color = "6B7280"
			}
			para.AddText(" [" + string(s.Type) + ": " + s.Explanation + "]").Color(strings.ToUpper(color)).Size("16")
		}
		pos = s.EndPos
	}
	writePlain(content[pos:])

	_, err := out.WriteTo(w)
	return err
}
