// Package export renders a reviewed document into downloadable artifacts.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dgallion1/redliner/internal/markup"
	"github.com/dgallion1/redliner/internal/redline"
)

// Format names an export artifact type.
type Format string

const (
	FormatText Format = "txt"
	FormatHTML Format = "html"
	FormatDiff Format = "diff"
	FormatDOCX Format = "docx"
	FormatJSON Format = "json"
)

var formats = map[Format]struct {
	contentType string
}{
	FormatText: {"text/plain; charset=utf-8"},
	FormatHTML: {"text/html; charset=utf-8"},
	FormatDiff: {"text/x-diff; charset=utf-8"},
	FormatDOCX: {"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	FormatJSON: {"application/json"},
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(s, ".")))
	if _, ok := formats[f]; !ok {
		return "", fmt.Errorf("unsupported export format %q", s)
	}
	return f, nil
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string { return formats[f].contentType }

// FileName derives a download name from the document's source file name.
func FileName(doc *redline.Document, f Format) string {
	base := doc.Metadata.FileName
	if base == "" {
		base = doc.ID
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base + ".redline." + string(f)
}

// Exporter writes documents in any supported format.
type Exporter struct {
	Projector *markup.Projector
	// Palette colors DOCX runs. The zero value uses the defaults.
	Palette markup.Palette
	Log     *slog.Logger
}

func (e Exporter) palette() markup.Palette {
	if e.Palette.Types == nil {
		return markup.DefaultPalette()
	}
	return e.Palette
}

func (e Exporter) projector() *markup.Projector {
	if e.Projector == nil {
		return markup.NewProjector(e.palette(), e.log())
	}
	return e.Projector
}

func (e Exporter) log() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

// Export writes doc to w as f. doc is not modified.
func (e Exporter) Export(w io.Writer, doc *redline.Document, f Format) error {
	switch f {
	case FormatText:
		final, err := Final(doc)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, final)
		return err
	case FormatHTML:
		return e.html(w, doc)
	case FormatDiff:
		return e.diff(w, doc)
	case FormatDOCX:
		return e.docx(w, doc)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

// Final returns the document content with every accepted or modified
// suggestion written in.
func Final(doc *redline.Document) (string, error) {
	ctrl := redline.NewController(doc.Clone(), slog.New(slog.DiscardHandler))
	if _, err := ctrl.ApplyAccepted(); err != nil {
		return "", fmt.Errorf("apply accepted suggestions: %w", err)
	}
	return ctrl.Content(), nil
}

// pending returns the suggestions still awaiting review that can be shown
// against the current content.
func (e Exporter) pending(doc *redline.Document) []redline.Suggestion {
	return redline.Resolve(doc.CurrentContent, doc.Suggestions, e.log())
}
