// Package markup projects suggestions onto document content as annotated HTML
// and reads plain text back out of it.
package markup

import (
	"html"
	"log/slog"
	"sort"
	"strings"

	"github.com/dgallion1/redliner/internal/metrics"
	"github.com/dgallion1/redliner/internal/redline"
)

// Class names and attributes of the annotation wrapper.
const (
	ClassRedline   = "redline"
	ClassOriginal  = "redline-original"
	ClassSuggested = "redline-suggested"
	ClassSelected  = "redline-selected"
	AttrID         = "data-suggestion-id"
)

var textEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&#39;",
	`"`, "&#34;",
	"\r", "&#13;",
	"\n", "<br>",
)

// Projector renders content plus suggestions into annotated markup.
type Projector struct {
	palette Palette
	log     *slog.Logger
}

func NewProjector(palette Palette, log *slog.Logger) *Projector {
	if log == nil {
		log = slog.Default()
	}
	return &Projector{palette: palette, log: log}
}

// Project splices suggestions into plain content. Suggestions are expected to
// be validated and non-overlapping; any that are not are skipped rather than
// allowed to corrupt the output. The selected suggestion is flagged.
func (p *Projector) Project(content string, suggestions []redline.Suggestion, selectedID string) string {
	metrics.Projections.Inc()

	ordered := make([]redline.Suggestion, len(suggestions))
	copy(ordered, suggestions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartPos > ordered[j].StartPos
	})

	// Walk right to left so offsets of unprocessed suggestions stay valid.
	pieces := make([]string, 0, 2*len(ordered)+1)
	right := len(content)
	for _, s := range ordered {
		if s.StartPos < 0 || s.StartPos >= s.EndPos || s.EndPos > right {
			p.log.Warn("skipping unprojectable suggestion",
				"suggestion_id", s.ID,
				"start", s.StartPos,
				"end", s.EndPos,
			)
			continue
		}
		pieces = append(pieces, textEscaper.Replace(content[s.EndPos:right]))

		literal := content[s.StartPos:s.EndPos]
		if literal != s.OriginalText {
			metrics.ProjectionMismatches.Inc()
			p.log.Warn("suggestion text mismatch, rendering literal range",
				"suggestion_id", s.ID,
				"expected", s.OriginalText,
				"actual", literal,
			)
		}
		pieces = append(pieces, p.wrap(s, literal, s.ID == selectedID))
		right = s.StartPos
	}
	pieces = append(pieces, textEscaper.Replace(content[:right]))

	var b strings.Builder
	for i := len(pieces) - 1; i >= 0; i-- {
		b.WriteString(pieces[i])
	}
	return b.String()
}

// Reproject projects over content that is already annotated by first reducing
// it to its original text.
func (p *Projector) Reproject(annotated string, suggestions []redline.Suggestion, selectedID string) (string, error) {
	plain, err := PlainText(annotated, ViewOriginal)
	if err != nil {
		return "", err
	}
	return p.Project(plain, suggestions, selectedID), nil
}

func (p *Projector) wrap(s redline.Suggestion, literal string, selected bool) string {
	typ := classToken(string(s.Type))
	sev := classToken(string(s.Severity))

	var b strings.Builder
	b.WriteString(`<span class="` + ClassRedline + " redline-" + typ + " redline-" + sev)
	if selected {
		b.WriteString(" " + ClassSelected)
	}
	b.WriteString(`" ` + AttrID + `="` + html.EscapeString(s.ID) + `"`)
	b.WriteString(` data-type="` + typ + `" data-severity="` + sev + `"`)
	if selected {
		b.WriteString(` data-selected="true"`)
	}
	b.WriteString(` style="` + html.EscapeString(p.palette.Style(s.Type, s.Severity)) + `">`)
	b.WriteString(`<del class="` + ClassOriginal + `">` + textEscaper.Replace(literal) + `</del>`)
	b.WriteString(`<ins class="` + ClassSuggested + `">` + textEscaper.Replace(s.SuggestedText) + `</ins>`)
	b.WriteString(`</span>`)
	return b.String()
}

// classToken keeps class names to lowercase ASCII letters.
func classToken(v string) string {
	if v == "" {
		return "unknown"
	}
	for _, r := range v {
		if r < 'a' || r > 'z' {
			return "unknown"
		}
	}
	return v
}
