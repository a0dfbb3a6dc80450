package redline

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SuggestionType classifies what kind of problem a suggestion addresses.
type SuggestionType string

const (
	TypeGrammar SuggestionType = "grammar"
	TypeStyle   SuggestionType = "style"
	TypeLegal   SuggestionType = "legal"
	TypeClarity SuggestionType = "clarity"
)

// Severity ranks how important a suggestion is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Status is the review state of a suggestion.
type Status string

const (
	StatusPending     Status = "pending"
	StatusAccepted    Status = "accepted"
	StatusRejected    Status = "rejected"
	StatusModified    Status = "modified"
	StatusInvalidated Status = "invalidated"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusInvalidated
}

// approved reports whether the reviewer agreed to write the suggestion in.
func (s Status) approved() bool {
	return s == StatusAccepted || s == StatusModified
}

var validTypes = map[SuggestionType]bool{
	TypeGrammar: true,
	TypeStyle:   true,
	TypeLegal:   true,
	TypeClarity: true,
}

var validSeverities = map[Severity]bool{
	SeverityHigh:   true,
	SeverityMedium: true,
	SeverityLow:    true,
}

// ValidType reports whether t is a known suggestion type.
func ValidType(t SuggestionType) bool { return validTypes[t] }

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s Severity) bool { return validSeverities[s] }

var (
	ErrNotFound    = errors.New("suggestion not found")
	ErrTerminal    = errors.New("suggestion is in a terminal state")
	ErrApplied     = errors.New("suggestion already applied to content")
	ErrInvalidEdit = errors.New("edit range out of bounds")
)

// Suggestion is a proposed replacement of the half-open byte range
// [StartPos, EndPos) of the document content.
type Suggestion struct {
	ID            string         `json:"id"`
	StartPos      int            `json:"start_pos"`
	EndPos        int            `json:"end_pos"`
	OriginalText  string         `json:"original_text"`
	SuggestedText string         `json:"suggested_text"`
	Type          SuggestionType `json:"type"`
	Severity      Severity       `json:"severity"`
	Status        Status         `json:"status"`
	Explanation   string         `json:"explanation"`
	Confidence    *float64       `json:"confidence,omitempty"`

	// Citation checks for legal suggestions.
	VerificationStatus string   `json:"verification_status,omitempty"`
	SourceURL          string   `json:"source_url,omitempty"`
	AlternativeURLs    []string `json:"alternative_urls,omitempty"`

	// Applied is set once an accepted suggestion has been written into
	// the document's current content.
	Applied bool `json:"applied,omitempty"`
}

// Len returns the byte length of the suggestion's range.
func (s Suggestion) Len() int { return s.EndPos - s.StartPos }

// Overlaps reports whether the ranges of s and o intersect.
func (s Suggestion) Overlaps(o Suggestion) bool {
	return s.StartPos < o.EndPos && o.StartPos < s.EndPos
}

// Metadata is descriptive information kept alongside a document.
type Metadata struct {
	FileName      string `json:"file_name"`
	FileType      string `json:"file_type"`
	AcceptedCount int    `json:"accepted_count"`
	RejectedCount int    `json:"rejected_count"`
}

// Document is a reviewed text together with its suggestions.
type Document struct {
	ID              string         `json:"id"`
	OriginalContent string         `json:"original_content"`
	CurrentContent  string         `json:"current_content"`
	Suggestions     []Suggestion   `json:"suggestions"`
	Metadata        Metadata       `json:"metadata"`
	PositionMap     map[string]int `json:"position_map,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewDocument builds a document from the exact content snapshot the
// suggestions were produced against. Missing suggestion IDs and statuses
// are filled in.
func NewDocument(id, content string, meta Metadata, suggestions []Suggestion) *Document {
	if id == "" {
		id = NewID()
	}
	now := time.Now()
	doc := &Document{
		ID:              id,
		OriginalContent: content,
		CurrentContent:  content,
		Metadata:        meta,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	doc.Suggestions = make([]Suggestion, 0, len(suggestions))
	for _, s := range suggestions {
		if s.ID == "" {
			s.ID = NewID()
		}
		if s.Status == "" {
			s.Status = StatusPending
		}
		doc.Suggestions = append(doc.Suggestions, s)
	}
	return doc
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := *d
	out.Suggestions = make([]Suggestion, len(d.Suggestions))
	for i, s := range d.Suggestions {
		if s.Confidence != nil {
			c := *s.Confidence
			s.Confidence = &c
		}
		if s.AlternativeURLs != nil {
			s.AlternativeURLs = append([]string(nil), s.AlternativeURLs...)
		}
		out.Suggestions[i] = s
	}
	if d.PositionMap != nil {
		out.PositionMap = make(map[string]int, len(d.PositionMap))
		for k, v := range d.PositionMap {
			out.PositionMap[k] = v
		}
	}
	return &out
}

// TextRange captures a manual edit before it is applied.
type TextRange struct {
	StartPos     int    `json:"start_pos"`
	EndPos       int    `json:"end_pos"`
	SelectedText string `json:"selected_text"`
}

// RedlineState is the reviewer's view state for one document.
type RedlineState struct {
	SelectedSuggestionID   string         `json:"selected_suggestion_id"`
	CurrentSuggestionIndex int            `json:"current_suggestion_index"`
	FilterType             SuggestionType `json:"filter_type,omitempty"`
	FilterSeverity         Severity       `json:"filter_severity,omitempty"`
}

// NewID returns a time-ordered unique identifier.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
