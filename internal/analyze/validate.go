package analyze

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/redliner/internal/redline"
)

// Proposal is one edit as returned by a reviewer model, before it is placed
// in the document.
type Proposal struct {
	OriginalText  string   `json:"original_text"`
	SuggestedText string   `json:"suggested_text"`
	Type          string   `json:"type"`
	Severity      string   `json:"severity"`
	Explanation   string   `json:"explanation"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

const (
	maxOriginalLen    = 500
	maxSuggestedLen   = 1000
	maxExplanationLen = 300
)

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|override|` +
		`new\s+instructions)`,
)

// ValidateProposal checks a proposal and normalizes it in place. Returns true
// if it is usable.
func ValidateProposal(p *Proposal) bool {
	if p == nil {
		return false
	}
	if p.OriginalText == "" || p.SuggestedText == "" || len(p.OriginalText) > maxOriginalLen || len(p.SuggestedText) > maxSuggestedLen {
		return false
	}
	if !utf8.ValidString(p.OriginalText) || !utf8.ValidString(p.SuggestedText) {
		return false
	}
	if p.OriginalText == p.SuggestedText {
		return false
	}

	p.Type = strings.ToLower(strings.TrimSpace(p.Type))
	p.Severity = strings.ToLower(strings.TrimSpace(p.Severity))
	if !redline.ValidType(redline.SuggestionType(p.Type)) {
		return false
	}
	if !redline.ValidSeverity(redline.Severity(p.Severity)) {
		return false
	}

	// Reject output that carries injected instructions.
	if injectionPattern.MatchString(p.SuggestedText) || injectionPattern.MatchString(p.Explanation) {
		return false
	}

	p.Explanation = strings.TrimSpace(p.Explanation)
	if len(p.Explanation) > maxExplanationLen {
		p.Explanation = truncateRunes(p.Explanation, maxExplanationLen)
	}
	if p.Confidence != nil && (*p.Confidence < 0 || *p.Confidence > 1) {
		p.Confidence = nil
	}
	return true
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
