package redline

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgallion1/redliner/internal/metrics"
)

// Direction moves the review cursor through the pending suggestion list.
type Direction int

const (
	Prev Direction = -1
	Next Direction = 1
)

// Filter restricts the visible suggestions. Empty fields match everything.
type Filter struct {
	Type     SuggestionType `json:"type,omitempty"`
	Severity Severity       `json:"severity,omitempty"`
}

// Match reports whether s passes the filter.
func (f Filter) Match(s Suggestion) bool {
	if f.Type != "" && s.Type != f.Type {
		return false
	}
	if f.Severity != "" && s.Severity != f.Severity {
		return false
	}
	return true
}

// Controller owns one document and serializes every mutation of it.
type Controller struct {
	mu    sync.Mutex
	doc   *Document
	state RedlineState
	log   *slog.Logger
}

// NewController takes ownership of doc.
func NewController(doc *Document, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		doc: doc,
		log: log.With("doc_id", doc.ID),
	}
}

// Snapshot returns a copy of the document that is safe to read concurrently.
func (c *Controller) Snapshot() *Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Clone()
}

// Content returns the current document content.
func (c *Controller) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.CurrentContent
}

// State returns the reviewer view state.
func (c *Controller) State() RedlineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Replace swaps in a new document, resetting selection but keeping the filter.
func (c *Controller) Replace(doc *Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = doc
	c.state.SelectedSuggestionID = ""
	c.state.CurrentSuggestionIndex = 0
}

// Accept marks a suggestion accepted. Content is not rewritten until
// ApplyAccepted runs.
func (c *Controller) Accept(id string) error {
	return c.transition(id, StatusAccepted, nil)
}

// Reject marks a suggestion rejected. Rejection is terminal.
func (c *Controller) Reject(id string) error {
	return c.transition(id, StatusRejected, nil)
}

// Modify replaces the suggested text and marks the suggestion modified.
func (c *Controller) Modify(id, text string) error {
	if text == "" {
		return fmt.Errorf("modify %s: suggested text must not be empty", id)
	}
	return c.transition(id, StatusModified, func(s *Suggestion) {
		s.SuggestedText = text
	})
}

func (c *Controller) transition(id string, to Status, mutate func(*Suggestion)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.findLocked(id)
	if s == nil {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if s.Status == to && mutate == nil {
		return nil
	}
	if s.Status.Terminal() {
		return fmt.Errorf("%s is %s: %w", id, s.Status, ErrTerminal)
	}
	if s.Applied {
		return fmt.Errorf("%s: %w", id, ErrApplied)
	}

	from := s.Status
	if mutate != nil {
		mutate(s)
	}
	s.Status = to

	meta := &c.doc.Metadata
	if from == StatusAccepted && to != StatusAccepted {
		meta.AcceptedCount--
	}
	if to == StatusAccepted && from != StatusAccepted {
		meta.AcceptedCount++
	}
	if to == StatusRejected {
		meta.RejectedCount++
	}
	c.doc.UpdatedAt = time.Now()

	metrics.Transitions.WithLabelValues(string(to)).Inc()
	c.log.Info("suggestion transition", "suggestion_id", id, "from", from, "to", to)
	return nil
}

// Select marks a suggestion as the reviewer's current one. An empty id clears
// the selection.
func (c *Controller) Select(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		c.state.SelectedSuggestionID = ""
		return nil
	}
	if c.findLocked(id) == nil {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	c.state.SelectedSuggestionID = id
	for i, s := range c.navigableLocked() {
		if s.ID == id {
			c.state.CurrentSuggestionIndex = i
			break
		}
	}
	return nil
}

// Navigate moves one step over the filtered pending suggestions in document
// order and selects the result. It clamps at both ends.
func (c *Controller) Navigate(dir Direction) (Suggestion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.navigableLocked()
	if len(list) == 0 {
		c.state.CurrentSuggestionIndex = 0
		c.state.SelectedSuggestionID = ""
		return Suggestion{}, false
	}

	idx := -1
	for i, s := range list {
		if s.ID == c.state.SelectedSuggestionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = clampIndex(c.state.CurrentSuggestionIndex, len(list))
	} else {
		idx = clampIndex(idx+int(dir), len(list))
	}

	c.state.CurrentSuggestionIndex = idx
	c.state.SelectedSuggestionID = list[idx].ID
	return list[idx], true
}

// SetFilter updates the filter and returns the suggestions it lets through.
// Statuses of excluded suggestions are untouched.
func (c *Controller) SetFilter(f Filter) []Suggestion {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.FilterType = f.Type
	c.state.FilterSeverity = f.Severity
	c.state.CurrentSuggestionIndex = 0
	return c.visibleLocked()
}

// Visible returns every suggestion passing the current filter, in document order.
func (c *Controller) Visible() []Suggestion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleLocked()
}

// Projectable returns the content and the filtered pending suggestions that a
// projection should consider, read atomically.
func (c *Controller) Projectable() (string, []Suggestion, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.CurrentContent, c.navigableLocked(), c.state.SelectedSuggestionID
}

// ApplyEdit replaces [start, end) of the current content with text and remaps
// suggestion positions.
func (c *Controller) ApplyEdit(start, end int, text string) (EditResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyEditLocked(start, end, text)
}

// ApplyInput reconciles the current content with text read back from an
// editing surface. changed is false when nothing differs.
func (c *Controller) ApplyInput(text string) (res EditResult, changed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, repl, ok := DiffEdit(c.doc.CurrentContent, text)
	if !ok {
		return EditResult{Invalidated: []string{}}, false, nil
	}
	res, err = c.applyEditLocked(r.StartPos, r.EndPos, repl)
	return res, err == nil, err
}

func (c *Controller) applyEditLocked(start, end int, text string) (EditResult, error) {
	content := c.doc.CurrentContent
	if start < 0 || end < start || end > len(content) ||
		!boundary(content, start) || !boundary(content, end) {
		return EditResult{}, fmt.Errorf("edit [%d,%d) over %d bytes: %w", start, end, len(content), ErrInvalidEdit)
	}

	wasAccepted := make(map[string]bool)
	for _, s := range c.doc.Suggestions {
		if s.Status == StatusAccepted && !s.Applied {
			wasAccepted[s.ID] = true
		}
	}

	c.doc.CurrentContent = content[:start] + text + content[end:]
	res := Remap(c.doc.Suggestions, start, end, len(text))
	for _, id := range res.Invalidated {
		if wasAccepted[id] {
			c.doc.Metadata.AcceptedCount--
		}
		if id == c.state.SelectedSuggestionID {
			c.state.SelectedSuggestionID = ""
		}
	}
	c.doc.UpdatedAt = time.Now()

	metrics.SuggestionsInvalidated.Add(float64(len(res.Invalidated)))
	c.log.Info("manual edit applied",
		"start", start,
		"end", end,
		"delta", res.Delta,
		"shifted", res.Shifted,
		"invalidated", len(res.Invalidated),
	)
	return res, nil
}

// ApplyAccepted writes every accepted or modified, not yet applied suggestion
// into the current content, right to left, using the manual-edit remap for
// each splice. A modified suggestion writes the reviewer's text. Overlapping
// suggestions resolve like projection overlaps; losers are invalidated. It
// returns the number of suggestions applied.
func (c *Controller) ApplyAccepted() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var candidates []Suggestion
	for _, s := range c.doc.Suggestions {
		if s.Status.approved() && !s.Applied &&
			s.StartPos >= 0 && s.StartPos < s.EndPos && s.EndPos <= len(c.doc.CurrentContent) {
			candidates = append(candidates, s)
		}
	}
	winners := ResolveOverlaps(candidates)
	sort.Slice(winners, func(i, j int) bool { return winners[i].StartPos > winners[j].StartPos })

	applied := 0
	for _, w := range winners {
		s := c.findLocked(w.ID)
		if s == nil || !s.Status.approved() {
			continue
		}
		if literal := c.doc.CurrentContent[s.StartPos:s.EndPos]; literal != s.OriginalText {
			c.log.Warn("accepted suggestion text mismatch",
				"suggestion_id", s.ID,
				"expected", s.OriginalText,
				"actual", literal,
			)
		}
		start, end := s.StartPos, s.EndPos
		s.Applied = true
		if _, err := c.applyEditLocked(start, end, s.SuggestedText); err != nil {
			s.Applied = false
			return applied, fmt.Errorf("apply %s: %w", s.ID, err)
		}
		s = c.findLocked(w.ID)
		s.EndPos = s.StartPos + len(s.SuggestedText)
		applied++
	}
	return applied, nil
}

func (c *Controller) findLocked(id string) *Suggestion {
	for i := range c.doc.Suggestions {
		if c.doc.Suggestions[i].ID == id {
			return &c.doc.Suggestions[i]
		}
	}
	return nil
}

func (c *Controller) filterLocked() Filter {
	return Filter{Type: c.state.FilterType, Severity: c.state.FilterSeverity}
}

func (c *Controller) visibleLocked() []Suggestion {
	f := c.filterLocked()
	out := make([]Suggestion, 0, len(c.doc.Suggestions))
	for _, s := range c.doc.Suggestions {
		if f.Match(s) {
			out = append(out, s)
		}
	}
	sortByPosition(out)
	return out
}

func (c *Controller) navigableLocked() []Suggestion {
	f := c.filterLocked()
	out := make([]Suggestion, 0, len(c.doc.Suggestions))
	for _, s := range c.doc.Suggestions {
		if s.Status == StatusPending && f.Match(s) {
			out = append(out, s)
		}
	}
	sortByPosition(out)
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
