package markup

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/redliner/internal/redline"
)

// Palette maps suggestion types to colors and severities to emphasis weights.
type Palette struct {
	Types      map[redline.SuggestionType]string `yaml:"types"`
	Severities map[redline.Severity]int          `yaml:"severities"`
}

// DefaultPalette returns the built-in styling.
func DefaultPalette() Palette {
	return Palette{
		Types: map[redline.SuggestionType]string{
			redline.TypeGrammar: "#2563eb",
			redline.TypeStyle:   "#7c3aed",
			redline.TypeLegal:   "#dc2626",
			redline.TypeClarity: "#059669",
		},
		Severities: map[redline.Severity]int{
			redline.SeverityHigh:   3,
			redline.SeverityMedium: 2,
			redline.SeverityLow:    1,
		},
	}
}

// LoadPalette reads a YAML palette and layers it over the defaults.
// An empty path returns the defaults.
func LoadPalette(path string) (Palette, error) {
	p := DefaultPalette()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read palette: %w", err)
	}
	var override Palette
	if err := yaml.Unmarshal(data, &override); err != nil {
		return p, fmt.Errorf("parse palette: %w", err)
	}
	for k, v := range override.Types {
		p.Types[k] = v
	}
	for k, v := range override.Severities {
		p.Severities[k] = v
	}
	return p, nil
}

// Style returns the inline style for a suggestion of the given kind.
func (p Palette) Style(t redline.SuggestionType, sev redline.Severity) string {
	color, ok := p.Types[t]
	if !ok {
		color = "#6b7280"
	}
	weight, ok := p.Severities[sev]
	if !ok {
		weight = 1
	}
	return fmt.Sprintf("--redline-color:%s;--redline-weight:%d", color, weight)
}
