package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dgallion1/redliner/internal/redline"
	"github.com/dgallion1/redliner/internal/session"
)

const maxJSONBody = 16 << 20

// suggestionInput is an externally produced suggestion. Positions are byte
// offsets into the content it arrives with.
type suggestionInput struct {
	ID                 string   `json:"id" validate:"omitempty,max=128"`
	StartPos           int      `json:"start_pos" validate:"gte=0"`
	EndPos             int      `json:"end_pos" validate:"gtfield=StartPos"`
	OriginalText       string   `json:"original_text"`
	SuggestedText      string   `json:"suggested_text" validate:"required"`
	Type               string   `json:"type" validate:"required,oneof=grammar style legal clarity"`
	Severity           string   `json:"severity" validate:"required,oneof=high medium low"`
	Explanation        string   `json:"explanation" validate:"max=2000"`
	Confidence         *float64 `json:"confidence" validate:"omitempty,gte=0,lte=1"`
	VerificationStatus string   `json:"verification_status" validate:"omitempty,max=64"`
	SourceURL          string   `json:"source_url" validate:"omitempty,url"`
	AlternativeURLs    []string `json:"alternative_urls" validate:"omitempty,dive,url"`
}

func (in suggestionInput) suggestion() redline.Suggestion {
	return redline.Suggestion{
		ID:                 in.ID,
		StartPos:           in.StartPos,
		EndPos:             in.EndPos,
		OriginalText:       in.OriginalText,
		SuggestedText:      in.SuggestedText,
		Type:               redline.SuggestionType(in.Type),
		Severity:           redline.Severity(in.Severity),
		Status:             redline.StatusPending,
		Explanation:        in.Explanation,
		Confidence:         in.Confidence,
		VerificationStatus: in.VerificationStatus,
		SourceURL:          in.SourceURL,
		AlternativeURLs:    in.AlternativeURLs,
	}
}

func suggestions(in []suggestionInput) []redline.Suggestion {
	out := make([]redline.Suggestion, len(in))
	for i, s := range in {
		out[i] = s.suggestion()
	}
	return out
}

// createDocumentRequest registers a document with suggestions produced
// elsewhere. Content is the exact snapshot the suggestions were made on.
type createDocumentRequest struct {
	ID          string            `json:"id" validate:"omitempty,max=128"`
	Content     string            `json:"content" validate:"required"`
	FileName    string            `json:"file_name" validate:"omitempty,max=255"`
	Suggestions []suggestionInput `json:"suggestions" validate:"max=10000,dive"`
}

// reloadSuggestions replaces a document's suggestions on reload. They must
// reference the reloaded content.
type reloadSuggestions struct {
	Suggestions []suggestionInput `validate:"max=10000,dive"`
}

type modifyRequest struct {
	SuggestedText string `json:"suggested_text" validate:"required"`
}

type selectRequest struct {
	ID string `json:"id" validate:"max=128"`
}

type navigateRequest struct {
	Direction string `json:"direction" validate:"required,oneof=next prev"`
}

type filterRequest struct {
	Type     string `json:"type" validate:"omitempty,oneof=grammar style legal clarity"`
	Severity string `json:"severity" validate:"omitempty,oneof=high medium low"`
}

type editRequest struct {
	StartPos int    `json:"start_pos" validate:"gte=0"`
	EndPos   int    `json:"end_pos" validate:"gtefield=StartPos"`
	Text     string `json:"text"`
}

// decode reads a JSON body into v and validates it. On failure the error
// response has been written and false is returned.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		jsonError(w, validationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// writeError maps engine errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, redline.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, redline.ErrTerminal), errors.Is(err, redline.ErrApplied):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, redline.ErrInvalidEdit):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error("request failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}
