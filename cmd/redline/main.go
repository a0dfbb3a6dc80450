// Command redline reviews documents offline: it extracts reviewable text,
// runs the built-in rules, projects suggestions into markup and exports the
// result.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/alecthomas/kong"

	"github.com/dgallion1/redliner/internal/analyze"
	"github.com/dgallion1/redliner/internal/chunker"
	"github.com/dgallion1/redliner/internal/doctree"
	"github.com/dgallion1/redliner/internal/export"
	"github.com/dgallion1/redliner/internal/extract"
	"github.com/dgallion1/redliner/internal/markup"
	"github.com/dgallion1/redliner/internal/parser"
	"github.com/dgallion1/redliner/internal/redline"
	"github.com/dgallion1/redliner/internal/session"
)

// Globals are flags shared by every command.
type Globals struct {
	Palette string `help:"YAML palette overriding the default colors" type:"existingfile"`
	Verbose bool   `short:"v" help:"Log engine warnings to stderr"`
}

func (g *Globals) logger() *slog.Logger {
	if !g.Verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (g *Globals) projector(log *slog.Logger) (*markup.Projector, markup.Palette, error) {
	palette, err := markup.LoadPalette(g.Palette)
	if err != nil {
		return nil, palette, err
	}
	return markup.NewProjector(palette, log), palette, nil
}

var CLI struct {
	Globals

	Extract ExtractCmd `cmd:"" help:"Extract reviewable text from a document"`
	Analyze AnalyzeCmd `cmd:"" help:"Run the built-in rules and write a document JSON"`
	Project ProjectCmd `cmd:"" help:"Project a document JSON's pending suggestions"`
	Export  ExportCmd  `cmd:"" help:"Export a document JSON"`
}

// SourceFlags select and parse an input document.
type SourceFlags struct {
	Path    string        `arg:"" help:"Source document" type:"existingfile"`
	Timeout time.Duration `default:"2m" help:"Extraction deadline"`
	NoPdf   bool          `name:"no-pdftotext" help:"Disable the pdftotext fallback for PDFs"`
}

// ExtractCmd prints the flattened content of a source file.
type ExtractCmd struct {
	SourceFlags `embed:""`
	Anchors bool `help:"Print paragraph anchors as JSON instead of the text"`
}

func (c *ExtractCmd) Run(g *Globals) error {
	flat, err := c.extract(context.Background())
	if err != nil {
		return err
	}
	if c.Anchors {
		return writeJSON(os.Stdout, flat.Anchors())
	}
	_, err = fmt.Fprintln(os.Stdout, flat.Content)
	return err
}

func (c *SourceFlags) extract(ctx context.Context) (doctree.Flat, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return doctree.Flat{}, err
	}
	ex := extract.Extractor{
		Options: parser.Options{PDFFallbackPdftotext: !c.NoPdf},
		Timeout: c.Timeout,
	}
	flat, err := ex.Extract(ctx, extract.Source{FileName: filepath.Base(c.Path), Data: data})
	if err != nil {
		return doctree.Flat{}, fmt.Errorf("extract %s: %w", c.Path, err)
	}
	return flat, nil
}

// AnalyzeCmd builds a reviewable document from a source file.
type AnalyzeCmd struct {
	SourceFlags `embed:""`
	Out       string `short:"o" help:"Write the document JSON here instead of stdout" type:"path"`
	ChunkSize int    `default:"1500" help:"Chunk size in tokens"`
	Overlap   int    `default:"200" help:"Chunk overlap in tokens"`
}

func (c *AnalyzeCmd) Run(g *Globals) error {
	ctx := context.Background()
	flat, err := c.extract(ctx)
	if err != nil {
		return err
	}

	var all []redline.Suggestion
	for _, chunk := range chunker.Chunk(flat, chunker.Config{ChunkSize: c.ChunkSize, ChunkOverlap: c.Overlap}) {
		found, err := (analyze.RuleAnalyzer{}).Analyze(ctx, c.Path, chunk)
		if err != nil {
			return err
		}
		all = analyze.Merge(all, found)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].StartPos < all[j].StartPos })

	name := filepath.Base(c.Path)
	doc := redline.NewDocument("", flat.Content, redline.Metadata{FileName: name, FileType: parser.FileType(name)}, all)
	doc.PositionMap = flat.Anchors()

	return withOutput(c.Out, func(w io.Writer) error { return writeJSON(w, doc) })
}

// ProjectCmd renders a document's pending suggestions.
type ProjectCmd struct {
	Doc  string `arg:"" help:"Document JSON" type:"existingfile"`
	View string `default:"markup" enum:"markup,original,suggested,json" help:"What to print: markup, original, suggested or json"`
}

func (c *ProjectCmd) Run(g *Globals) error {
	doc, err := loadDocument(c.Doc)
	if err != nil {
		return err
	}
	log := g.logger()
	proj, _, err := g.projector(log)
	if err != nil {
		return err
	}
	view := session.New(doc, proj, nil, log).Render()

	switch c.View {
	case "json":
		return writeJSON(os.Stdout, view)
	case "original", "suggested":
		mode := markup.ViewOriginal
		if c.View == "suggested" {
			mode = markup.ViewSuggested
		}
		text, err := markup.PlainText(view.Markup, mode)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, text)
		return err
	default:
		_, err = fmt.Fprintln(os.Stdout, view.Markup)
		return err
	}
}

// ExportCmd writes a document in a download format.
type ExportCmd struct {
	Doc    string `arg:"" help:"Document JSON" type:"existingfile"`
	Format string `short:"f" default:"txt" enum:"txt,html,diff,docx,json" help:"Export format"`
	Out    string `short:"o" help:"Output file; defaults to <name>.redline.<format>" type:"path"`
}

func (c *ExportCmd) Run(g *Globals) error {
	doc, err := loadDocument(c.Doc)
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(c.Format)
	if err != nil {
		return err
	}
	log := g.logger()
	proj, palette, err := g.projector(log)
	if err != nil {
		return err
	}
	out := c.Out
	if out == "" {
		out = export.FileName(doc, format)
	}
	ex := export.Exporter{Projector: proj, Palette: palette, Log: log}
	if err := withOutput(out, func(w io.Writer) error { return ex.Export(w, doc, format) }); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "wrote", out)
	return nil
}

func loadDocument(path string) (*redline.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc redline.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.ID == "" {
		doc.ID = redline.NewID()
	}
	if doc.CurrentContent == "" {
		doc.CurrentContent = doc.OriginalContent
	}
	return &doc, nil
}

// withOutput runs fn against path, or stdout when path is empty.
func withOutput(path string, fn func(io.Writer) error) error {
	if path == "" {
		return fn(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("redline"),
		kong.Description("Offline document review: extract, analyze, project and export redlines"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(&CLI.Globals)
	ctx.FatalIfErrorf(err)
}
