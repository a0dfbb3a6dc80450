// Package surface keeps a live editable surface in step with projected
// markup without moving the caret or dropping in-flight input.
package surface

import (
	"github.com/rivo/uniseg"
	"golang.org/x/net/html"
)

// Surface is a rendering target that displays annotated markup and exposes a
// DOM-like caret. Offsets inside text nodes are byte offsets into Node.Data;
// offsets inside element nodes are child indexes.
type Surface interface {
	Markup() string
	SetMarkup(markup string) error
	Root() *html.Node
	Selection() (node *html.Node, offset int, ok bool)
	Select(node *html.Node, offset int) error
	// AfterRender runs fn once the surface has applied the latest markup.
	AfterRender(fn func())
}

// GetCaretOffset returns the number of visible characters between the start
// of the surface and the caret. A line break counts as one character, as it
// does in the editor's own text. It returns 0 when there is no selection or
// the selection lies outside the surface.
func GetCaretOffset(s Surface) (offset int) {
	defer func() {
		if r := recover(); r != nil {
			offset = 0
		}
	}()

	node, off, ok := s.Selection()
	if !ok || node == nil {
		return 0
	}
	total := 0
	if !countTo(s.Root(), node, off, &total) {
		return 0
	}
	return total
}

// SetCaretOffset places the caret after k visible characters, clamped to the
// surface length. Failures leave the caret where it was.
func SetCaretOffset(s Surface, k int) {
	defer func() { _ = recover() }()

	root := s.Root()
	if root == nil {
		return
	}
	if k < 0 {
		k = 0
	}

	visible := leaves(root)
	if len(visible) == 0 {
		_ = s.Select(root, 0)
		return
	}

	total := 0
	for _, n := range visible {
		if isBreak(n) {
			// Before the break: only reached when no text ends here.
			if k <= total {
				_ = s.Select(n.Parent, childIndex(n))
				return
			}
			total++
			continue
		}
		w := graphemes(n.Data)
		if k <= total+w {
			_ = s.Select(n, byteOffset(n.Data, k-total))
			return
		}
		total += w
	}
	last := visible[len(visible)-1]
	if isBreak(last) {
		_ = s.Select(last.Parent, childIndex(last)+1)
		return
	}
	_ = s.Select(last, len(last.Data))
}

// TextLength returns the number of visible characters on the surface.
func TextLength(s Surface) int {
	total := 0
	for _, n := range leaves(s.Root()) {
		total += visibleLen(n)
	}
	return total
}

// countTo adds the visible length before (target, off) to total, walking in
// document order. It reports whether target was found under n.
func countTo(n, target *html.Node, off int, total *int) bool {
	if n == nil {
		return false
	}
	if n == target {
		if n.Type == html.TextNode {
			*total += graphemes(n.Data[:clampByte(n.Data, off)])
			return true
		}
		i := 0
		for c := n.FirstChild; c != nil && i < off; c = c.NextSibling {
			for _, l := range leaves(c) {
				*total += visibleLen(l)
			}
			i++
		}
		return true
	}
	if n.Type == html.TextNode || isBreak(n) {
		*total += visibleLen(n)
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if countTo(c, target, off, total) {
			return true
		}
	}
	return false
}

// leaves returns the text nodes and line breaks under root in document order.
func leaves(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n == nil {
			return
		}
		if n.Type == html.TextNode || isBreak(n) {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func isBreak(n *html.Node) bool {
	return n.Type == html.ElementNode && n.Data == "br"
}

func visibleLen(n *html.Node) int {
	if isBreak(n) {
		return 1
	}
	return graphemes(n.Data)
}

func childIndex(n *html.Node) int {
	i := 0
	for c := n.PrevSibling; c != nil; c = c.PrevSibling {
		i++
	}
	return i
}

func graphemes(s string) int {
	return uniseg.GraphemeClusterCount(s)
}

// byteOffset converts a grapheme count into a byte offset within s.
func byteOffset(s string, k int) int {
	if k <= 0 {
		return 0
	}
	g := uniseg.NewGraphemes(s)
	n := 0
	for g.Next() {
		n++
		if n == k {
			_, end := g.Positions()
			return end
		}
	}
	return len(s)
}

// clampByte bounds off to s and backs it up onto a grapheme boundary.
func clampByte(s string, off int) int {
	if off <= 0 {
		return 0
	}
	if off >= len(s) {
		return len(s)
	}
	g := uniseg.NewGraphemes(s)
	last := 0
	for g.Next() {
		_, end := g.Positions()
		if end > off {
			break
		}
		last = end
	}
	return last
}
