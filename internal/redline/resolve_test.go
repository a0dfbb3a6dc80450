package redline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sugg(id string, start, end int) Suggestion {
	return Suggestion{
		ID:            id,
		StartPos:      start,
		EndPos:        end,
		OriginalText:  "x",
		SuggestedText: "y",
		Type:          TypeGrammar,
		Severity:      SeverityLow,
		Status:        StatusPending,
	}
}

func ids(ss []Suggestion) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.ID
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Suggestion)
		want bool
	}{
		{"ok", func(*Suggestion) {}, true},
		{"not pending", func(s *Suggestion) { s.Status = StatusAccepted }, false},
		{"negative start", func(s *Suggestion) { s.StartPos = -1 }, false},
		{"end past content", func(s *Suggestion) { s.EndPos = 11 }, false},
		{"inverted", func(s *Suggestion) { s.StartPos, s.EndPos = 5, 2 }, false},
		{"empty range", func(s *Suggestion) { s.EndPos = s.StartPos }, false},
		{"empty original", func(s *Suggestion) { s.OriginalText = "" }, false},
		{"empty suggested", func(s *Suggestion) { s.SuggestedText = "" }, false},
		{"end at content length", func(s *Suggestion) { s.EndPos = 10 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sugg("a", 2, 5)
			tt.mut(&s)
			assert.Equal(t, tt.want, Validate(s, 10))
		})
	}
}

func TestResolveOverlaps_SmallerStartWins(t *testing.T) {
	kept := ResolveOverlaps([]Suggestion{sugg("late", 3, 8), sugg("early", 1, 4)})
	assert.Equal(t, []string{"early"}, ids(kept))
}

func TestResolveOverlaps_TieBreaks(t *testing.T) {
	t.Run("shorter range wins", func(t *testing.T) {
		kept := ResolveOverlaps([]Suggestion{sugg("long", 2, 9), sugg("short", 2, 4)})
		assert.Equal(t, []string{"short"}, ids(kept))
	})
	t.Run("id order on identical ranges", func(t *testing.T) {
		kept := ResolveOverlaps([]Suggestion{sugg("b", 2, 4), sugg("a", 2, 4)})
		assert.Equal(t, []string{"a"}, ids(kept))
	})
}

func TestResolveOverlaps_AdjacentRangesKept(t *testing.T) {
	in := []Suggestion{sugg("c", 8, 10), sugg("a", 0, 4), sugg("b", 4, 8)}
	kept := ResolveOverlaps(in)
	assert.Equal(t, []string{"a", "b", "c"}, ids(kept))
	// Input order is left alone.
	assert.Equal(t, []string{"c", "a", "b"}, ids(in))
}

func TestResolveOverlaps_ChainAgainstAllKept(t *testing.T) {
	// "mid" overlaps "wide" but not "first"; it must still lose.
	kept := ResolveOverlaps([]Suggestion{sugg("first", 0, 2), sugg("wide", 2, 10), sugg("mid", 5, 6), sugg("tail", 10, 12)})
	assert.Equal(t, []string{"first", "wide", "tail"}, ids(kept))
}

func TestResolve_DropsInvalidAndKeepsStore(t *testing.T) {
	content := "naïve text"
	in := []Suggestion{
		sugg("ok", 0, 2),
		sugg("oob", 5, 40),
		sugg("split-rune", 3, 4), // inside the two-byte ï
		sugg("overlap", 1, 2),
		func() Suggestion { s := sugg("rejected", 6, 8); s.Status = StatusRejected; return s }(),
	}
	kept := Resolve(content, in, nil)
	assert.Equal(t, []string{"ok"}, ids(kept))
	require.Len(t, in, 5)
	assert.Equal(t, StatusPending, in[3].Status)
}
