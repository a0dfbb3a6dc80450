package analyze

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dgallion1/redliner/internal/doctree"
	"github.com/dgallion1/redliner/internal/redline"
)

// Analyzer proposes suggestions for one chunk of a document. Returned offsets
// are absolute within the flattened document.
type Analyzer interface {
	Analyze(ctx context.Context, title string, chunk doctree.Chunk) ([]redline.Suggestion, error)
}

// Suggester turns a prompt into proposals. ClaudeClient implements it.
type Suggester interface {
	Suggest(ctx context.Context, prompt string) ([]Proposal, error)
}

// LLMAnalyzer reviews chunks with a language model.
type LLMAnalyzer struct {
	client Suggester
	log    *slog.Logger
}

func NewLLMAnalyzer(client Suggester, log *slog.Logger) *LLMAnalyzer {
	if log == nil {
		log = slog.Default()
	}
	return &LLMAnalyzer{client: client, log: log}
}

func (a *LLMAnalyzer) Analyze(ctx context.Context, title string, chunk doctree.Chunk) ([]redline.Suggestion, error) {
	proposals, err := a.client.Suggest(ctx, BuildChunkPrompt(title, chunk.Breadcrumb, chunk.Text))
	if err != nil {
		return nil, err
	}

	valid := proposals[:0]
	for i := range proposals {
		if ValidateProposal(&proposals[i]) {
			valid = append(valid, proposals[i])
		}
	}
	placed, missed := Locate(chunk, valid)
	a.log.Info("chunk analyzed",
		"chunk", chunk.Index,
		"proposed", len(proposals),
		"invalid", len(proposals)-len(valid),
		"unplaced", len(missed),
		"placed", len(placed),
	)
	for _, m := range missed {
		a.log.Debug("proposal text not found in chunk", "chunk", chunk.Index, "original_text", truncate(m.OriginalText, 80))
	}
	return placed, nil
}

// RuleAnalyzer applies fixed local checks. It needs no network access and
// serves when no model is configured.
type RuleAnalyzer struct{}

var (
	wordRe        = regexp.MustCompile(`[\p{L}\p{N}']+`)
	doubleSpaceRe = regexp.MustCompile(` {2,}`)
	spacePunctRe  = regexp.MustCompile(` +[,;:!?]`)
)

// phraseRules maps wordy or ambiguous phrases to replacements.
var phraseRules = []struct {
	phrase, replacement string
	typ                 redline.SuggestionType
	sev                 redline.Severity
	why                 string
}{
	{"and/or", "or", redline.TypeLegal, redline.SeverityMedium, `"and/or" is ambiguous in obligations; state whether both may apply.`},
	{"in order to", "to", redline.TypeClarity, redline.SeverityLow, "Shorter with the same meaning."},
	{"utilize", "use", redline.TypeStyle, redline.SeverityLow, "Plainer word."},
	{"prior to", "before", redline.TypeStyle, redline.SeverityLow, "Plainer phrase."},
	{"at this point in time", "now", redline.TypeClarity, redline.SeverityLow, "Shorter with the same meaning."},
}

func (RuleAnalyzer) Analyze(_ context.Context, _ string, chunk doctree.Chunk) ([]redline.Suggestion, error) {
	text := chunk.Text
	var out []redline.Suggestion
	add := func(start, end int, suggested string, t redline.SuggestionType, sev redline.Severity, why string) {
		out = append(out, redline.Suggestion{
			ID:            redline.NewID(),
			StartPos:      chunk.Start + start,
			EndPos:        chunk.Start + end,
			OriginalText:  text[start:end],
			SuggestedText: suggested,
			Type:          t,
			Severity:      sev,
			Status:        redline.StatusPending,
			Explanation:   why,
		})
	}

	words := wordRe.FindAllStringIndex(text, -1)
	for i := 1; i < len(words); i++ {
		prev, cur := words[i-1], words[i]
		gap := text[prev[1]:cur[0]]
		if gap == "" || strings.Trim(gap, " \t") != "" {
			continue
		}
		if strings.EqualFold(text[prev[0]:prev[1]], text[cur[0]:cur[1]]) {
			add(prev[0], cur[1], text[prev[0]:prev[1]], redline.TypeGrammar, redline.SeverityMedium, "Repeated word.")
		}
	}

	for _, m := range doubleSpaceRe.FindAllStringIndex(text, -1) {
		if midLine(text, m[0], m[1]) {
			add(m[0], m[1], " ", redline.TypeStyle, redline.SeverityLow, "Extra spaces.")
		}
	}
	for _, m := range spacePunctRe.FindAllStringIndex(text, -1) {
		end := m[1] - 1
		if midLine(text, m[0], end) {
			add(m[0], m[1], text[end:m[1]], redline.TypeGrammar, redline.SeverityLow, "No space before punctuation.")
		}
	}

	lower := asciiLower(text)
	for _, r := range phraseRules {
		from := 0
		for {
			i := strings.Index(lower[from:], r.phrase)
			if i < 0 {
				break
			}
			s, e := from+i, from+i+len(r.phrase)
			from = e
			if !wordBoundary(text, s, e) {
				continue
			}
			add(s, e, matchCase(text[s:e], r.replacement), r.typ, r.sev, r.why)
		}
	}
	return redline.ResolveOverlaps(out), nil
}

// midLine reports whether [s, e) has non-space text on both sides on the
// same line.
func midLine(text string, s, e int) bool {
	return s > 0 && e < len(text) &&
		text[s-1] != '\n' && text[s-1] != ' ' && text[e] != '\n'
}

// asciiLower lowers ASCII letters only so byte offsets are preserved.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func wordBoundary(text string, s, e int) bool {
	isWord := func(b byte) bool {
		return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
	}
	return (s == 0 || !isWord(text[s-1])) && (e == len(text) || !isWord(text[e]))
}

// matchCase capitalizes repl when orig starts with an upper-case letter.
func matchCase(orig, repl string) string {
	if orig != "" && repl != "" && orig[0] >= 'A' && orig[0] <= 'Z' {
		return strings.ToUpper(repl[:1]) + repl[1:]
	}
	return repl
}
