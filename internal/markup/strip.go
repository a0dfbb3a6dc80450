package markup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// View selects which side of each annotation PlainText keeps.
type View int

const (
	// ViewOriginal drops suggested insertions and keeps struck-through originals.
	ViewOriginal View = iota
	// ViewSuggested drops originals and keeps the insertions, as if accepted.
	ViewSuggested
)

// PlainText strips annotation markup and returns the text of the chosen view.
// For projector output, ViewOriginal returns the projected content exactly.
func PlainText(markup string, view View) (string, error) {
	skip := "ins"
	if view == ViewSuggested {
		skip = "del"
	}

	z := html.NewTokenizer(strings.NewReader(markup))
	var b strings.Builder
	depth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return b.String(), nil
			}
			return "", fmt.Errorf("tokenize markup: %w", z.Err())
		case html.TextToken:
			if depth == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br":
				if depth == 0 {
					b.WriteByte('\n')
				}
			case skip:
				if tt == html.StartTagToken {
					depth++
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == skip && depth > 0 {
				depth--
			}
		}
	}
}

// Insertions returns the suggested text shown in each annotation, keyed by
// suggestion ID. Annotations whose suggested side is missing are left out.
func Insertions(markup string) (map[string]string, error) {
	z := html.NewTokenizer(strings.NewReader(markup))
	out := make(map[string]string)
	var spans []string // suggestion IDs of the open spans, "" for plain spans
	inIns := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("tokenize markup: %w", z.Err())
		case html.TextToken:
			if id := openID(spans); inIns > 0 && id != "" {
				out[id] += string(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Span:
				if tt == html.StartTagToken {
					spans = append(spans, attr(tok, AttrID))
				}
			case atom.Ins:
				if id := openID(spans); tt == html.StartTagToken && id != "" {
					inIns++
					out[id] += ""
				}
			case atom.Br:
				if id := openID(spans); inIns > 0 && id != "" {
					out[id] += "\n"
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "span":
				if len(spans) > 0 {
					spans = spans[:len(spans)-1]
				}
			case "ins":
				if inIns > 0 {
					inIns--
				}
			}
		}
	}
}

// openID returns the suggestion ID of the innermost annotation being read.
func openID(spans []string) string {
	for i := len(spans) - 1; i >= 0; i-- {
		if spans[i] != "" {
			return spans[i]
		}
	}
	return ""
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// Signature summarises the structure of markup: the annotation wrapper,
// original and suggested tags with their attributes, and line breaks, in
// order. Two renderings with equal signatures differ at most in text.
func Signature(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var b strings.Builder
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return b.String()
		}
		if tt != html.StartTagToken && tt != html.EndTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		switch tok.DataAtom {
		case atom.Span, atom.Del, atom.Ins:
			b.WriteString(tok.String())
		case atom.Br:
			b.WriteString("<br>")
		}
	}
}

// ParseFragment parses markup as the children of an editable block.
func ParseFragment(markup string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	return html.ParseFragment(strings.NewReader(markup), ctx)
}

// Render serialises nodes back to markup.
func Render(nodes ...*html.Node) string {
	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return buf.String()
		}
	}
	return buf.String()
}

// Normalize returns markup in the canonical form produced by parsing and
// re-rendering it, so that equivalent markup compares equal.
func Normalize(markup string) string {
	nodes, err := ParseFragment(markup)
	if err != nil {
		return markup
	}
	return Render(nodes...)
}
