package redline

import (
	"log/slog"
	"sort"
	"unicode/utf8"

	"github.com/dgallion1/redliner/internal/metrics"
)

// Validate reports whether s may take part in a projection over content of
// length contentLen.
func Validate(s Suggestion, contentLen int) bool {
	if s.Status != StatusPending {
		return false
	}
	if s.StartPos < 0 || s.EndPos > contentLen || s.StartPos >= s.EndPos {
		return false
	}
	return s.OriginalText != "" && s.SuggestedText != ""
}

// ResolveOverlaps returns the subset of suggestions whose ranges are pairwise
// disjoint. Suggestions are taken in ascending start order; equal starts
// prefer the shorter range, then the smaller ID. A suggestion is kept only if
// it does not intersect an already kept one. The input slice is not modified.
func ResolveOverlaps(suggestions []Suggestion) []Suggestion {
	sorted := make([]Suggestion, len(suggestions))
	copy(sorted, suggestions)
	sortByPosition(sorted)

	kept := make([]Suggestion, 0, len(sorted))
	lastEnd := -1
	for _, s := range sorted {
		// Kept ranges are sorted and disjoint, so the last one reaches furthest.
		if len(kept) > 0 && s.StartPos < lastEnd {
			continue
		}
		kept = append(kept, s)
		lastEnd = s.EndPos
	}
	return kept
}

// Resolve validates suggestions against content and removes overlaps. Every
// excluded suggestion is logged with the reason; none are modified.
func Resolve(content string, suggestions []Suggestion, log *slog.Logger) []Suggestion {
	valid := make([]Suggestion, 0, len(suggestions))
	for _, s := range suggestions {
		if s.Status != StatusPending {
			continue
		}
		if !Validate(s, len(content)) {
			drop(log, s, "invalid_range")
			continue
		}
		if !onRuneBoundary(content, s.StartPos) || !onRuneBoundary(content, s.EndPos) {
			drop(log, s, "rune_boundary")
			continue
		}
		valid = append(valid, s)
	}

	kept := ResolveOverlaps(valid)
	if len(kept) < len(valid) {
		keptIDs := make(map[string]bool, len(kept))
		for _, s := range kept {
			keptIDs[s.ID] = true
		}
		for _, s := range valid {
			if !keptIDs[s.ID] {
				drop(log, s, "overlap")
			}
		}
	}
	return kept
}

func drop(log *slog.Logger, s Suggestion, reason string) {
	metrics.SuggestionsDropped.WithLabelValues(reason).Inc()
	if log != nil {
		log.Warn("suggestion excluded from projection",
			"suggestion_id", s.ID,
			"start", s.StartPos,
			"end", s.EndPos,
			"reason", reason,
		)
	}
}

func onRuneBoundary(content string, pos int) bool {
	return pos == len(content) || utf8.RuneStart(content[pos])
}

func sortByPosition(ss []Suggestion) {
	sort.SliceStable(ss, func(i, j int) bool {
		if ss[i].StartPos != ss[j].StartPos {
			return ss[i].StartPos < ss[j].StartPos
		}
		if ss[i].Len() != ss[j].Len() {
			return ss[i].Len() < ss[j].Len()
		}
		return ss[i].ID < ss[j].ID
	})
}
