package redline

import "unicode/utf8"

// EditResult describes how a manual edit affected the suggestion set.
type EditResult struct {
	Delta       int      `json:"delta"`
	Shifted     int      `json:"shifted"`
	Invalidated []string `json:"invalidated"`
}

// Remap adjusts suggestions in place for the replacement of [start, end) by
// text of length newLen. Suggestions ending at or before start are left alone,
// suggestions starting at or after end move by the length delta, and live
// suggestions whose range intersects the edit become invalidated. An insertion
// (start == end) strictly inside a range counts as an intersection. Terminal
// suggestions keep their status.
func Remap(suggestions []Suggestion, start, end, newLen int) EditResult {
	res := EditResult{Delta: newLen - (end - start), Invalidated: []string{}}
	for i := range suggestions {
		s := &suggestions[i]
		switch {
		case s.EndPos <= start:
			// Entirely before the edit.
		case s.StartPos >= end:
			if res.Delta != 0 {
				s.StartPos += res.Delta
				s.EndPos += res.Delta
				res.Shifted++
			}
		default:
			if s.Status.Terminal() || s.Applied {
				continue
			}
			s.Status = StatusInvalidated
			res.Invalidated = append(res.Invalidated, s.ID)
		}
	}
	return res
}

// DiffEdit finds the single contiguous replacement that turns oldText into
// newText. The returned range is in oldText coordinates and aligned to rune
// boundaries; ok is false when the texts are equal.
func DiffEdit(oldText, newText string) (r TextRange, replacement string, ok bool) {
	if oldText == newText {
		return TextRange{}, "", false
	}

	prefix := 0
	for prefix < len(oldText) && prefix < len(newText) && oldText[prefix] == newText[prefix] {
		prefix++
	}
	for prefix > 0 && (!boundary(oldText, prefix) || !boundary(newText, prefix)) {
		prefix--
	}

	suffix := 0
	for suffix < len(oldText)-prefix && suffix < len(newText)-prefix &&
		oldText[len(oldText)-1-suffix] == newText[len(newText)-1-suffix] {
		suffix++
	}
	for suffix > 0 && (!boundary(oldText, len(oldText)-suffix) || !boundary(newText, len(newText)-suffix)) {
		suffix--
	}

	end := len(oldText) - suffix
	return TextRange{
		StartPos:     prefix,
		EndPos:       end,
		SelectedText: oldText[prefix:end],
	}, newText[prefix : len(newText)-suffix], true
}

func boundary(s string, pos int) bool {
	return pos == 0 || pos == len(s) || utf8.RuneStart(s[pos])
}
