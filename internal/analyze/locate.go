package analyze

import (
	"strings"

	"github.com/dgallion1/redliner/internal/doctree"
	"github.com/dgallion1/redliner/internal/redline"
)

// Locate places proposals in the document by finding each original text
// inside the chunk. Proposals are matched in order, each searching after the
// previous match so repeated phrases map to successive occurrences; a
// proposal that is not found after the cursor falls back to the first free
// occurrence anywhere in the chunk. Unplaceable proposals are returned in
// missed.
func Locate(chunk doctree.Chunk, proposals []Proposal) (placed []redline.Suggestion, missed []Proposal) {
	cursor := 0
	var claimed [][2]int
	free := func(s, e int) bool {
		for _, c := range claimed {
			if s < c[1] && c[0] < e {
				return false
			}
		}
		return true
	}
	find := func(needle string, from int) int {
		for from <= len(chunk.Text) {
			i := strings.Index(chunk.Text[from:], needle)
			if i < 0 {
				return -1
			}
			s := from + i
			if free(s, s+len(needle)) {
				return s
			}
			from = s + 1
		}
		return -1
	}

	for _, p := range proposals {
		idx := find(p.OriginalText, cursor)
		if idx < 0 {
			idx = find(p.OriginalText, 0)
		}
		if idx < 0 {
			missed = append(missed, p)
			continue
		}
		end := idx + len(p.OriginalText)
		claimed = append(claimed, [2]int{idx, end})
		cursor = end

		placed = append(placed, redline.Suggestion{
			ID:            redline.NewID(),
			StartPos:      chunk.Start + idx,
			EndPos:        chunk.Start + end,
			OriginalText:  p.OriginalText,
			SuggestedText: p.SuggestedText,
			Type:          redline.SuggestionType(p.Type),
			Severity:      redline.Severity(p.Severity),
			Status:        redline.StatusPending,
			Explanation:   p.Explanation,
			Confidence:    p.Confidence,
		})
	}
	return placed, missed
}

// Merge appends incoming suggestions to existing ones, skipping any that
// repeat an existing edit over the same range. Overlapping chunks often
// propose the same change twice.
func Merge(existing, incoming []redline.Suggestion) []redline.Suggestion {
	type key struct {
		start, end int
		text       string
	}
	seen := make(map[key]bool, len(existing))
	for _, s := range existing {
		seen[key{s.StartPos, s.EndPos, s.SuggestedText}] = true
	}
	for _, s := range incoming {
		k := key{s.StartPos, s.EndPos, s.SuggestedText}
		if seen[k] {
			continue
		}
		seen[k] = true
		existing = append(existing, s)
	}
	return existing
}
