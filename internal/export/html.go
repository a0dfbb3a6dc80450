package export

import (
	"html/template"
	"io"

	"github.com/dgallion1/redliner/internal/redline"
)

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Georgia, serif; max-width: 48rem; margin: 2rem auto; line-height: 1.6; }
.redline { border-bottom: calc(var(--redline-weight, 1) * 1px) solid var(--redline-color, #6b7280); }
.redline-original { color: #b91c1c; text-decoration: line-through; }
.redline-suggested { color: #15803d; text-decoration: underline; }
.redline-selected { background: #fef3c7; }
footer { margin-top: 2rem; color: #6b7280; font-size: .875rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<article>{{.Body}}</article>
<footer>{{.Pending}} pending, {{.Accepted}} accepted, {{.Rejected}} rejected</footer>
</body>
</html>
`))

// html writes a standalone page with the pending suggestions projected onto
// the current content.
func (e Exporter) html(w io.Writer, doc *redline.Document) error {
	shown := e.pending(doc)
	body := e.projector().Project(doc.CurrentContent, shown, "")
	title := doc.Metadata.FileName
	if title == "" {
		title = doc.ID
	}
	return pageTmpl.Execute(w, struct {
		Title    string
		Body     template.HTML
		Pending  int
		Accepted int
		Rejected int
	}{
		Title:    title,
		Body:     template.HTML(body),
		Pending:  len(shown),
		Accepted: doc.Metadata.AcceptedCount,
		Rejected: doc.Metadata.RejectedCount,
	})
}
