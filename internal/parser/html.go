package parser

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dgallion1/redliner/internal/doctree"
)

// HTMLParser handles HTML files. Headings open sections; paragraph-like
// elements become text blocks.
type HTMLParser struct{}

func (p *HTMLParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := titleFromName(filename, ".html", ".htm")
	if t := findElement(doc, atom.Title); t != nil {
		if s := textContent(t); s != "" {
			title = s
		}
	}
	b := doctree.NewBuilder(title)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level := headingLevel(n.DataAtom); level > 0 {
				b.Heading(level, textContent(n))
				return
			}
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Nav, atom.Footer, atom.Header, atom.Template:
				return
			case atom.P, atom.Li, atom.Td, atom.Th, atom.Blockquote, atom.Pre, atom.Dd, atom.Dt:
				b.Text(textContent(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	if body := findElement(doc, atom.Body); body != nil {
		walk(body)
	} else {
		walk(doc)
	}
	return b.Tree(), nil
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}

// textContent joins descendant text, turning <br> into a newline and
// collapsing other whitespace runs.
func textContent(n *html.Node) string {
	var buf strings.Builder
	space := func() {
		if s := buf.String(); s != "" && !strings.HasSuffix(s, " ") && !strings.HasSuffix(s, "\n") {
			buf.WriteByte(' ')
		}
	}
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			if n.Data == "" {
				break
			}
			if isSpace(n.Data[0]) {
				space()
			}
			buf.WriteString(strings.Join(strings.Fields(n.Data), " "))
			if isSpace(n.Data[len(n.Data)-1]) {
				space()
			}
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			buf.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
