package surface

import (
	"errors"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dgallion1/redliner/internal/markup"
)

// ErrDetached is returned when a selection names a node outside the surface.
var ErrDetached = errors.New("node is not attached to the surface")

// HTMLSurface is an in-process editable surface backed by an HTML node tree.
// Text-only updates patch the existing text nodes so the caret survives; any
// structural change rebuilds the tree and drops the caret. AfterRender
// callbacks run on the next call to Idle.
type HTMLSurface struct {
	mu      sync.Mutex
	root    *html.Node
	sel     *html.Node
	selOff  int
	idle    []func()
	renders int
}

// NewHTMLSurface returns a surface displaying the given markup.
func NewHTMLSurface(initial string) (*HTMLSurface, error) {
	s := &HTMLSurface{root: newRoot()}
	if initial == "" {
		return s, nil
	}
	nodes, err := markup.ParseFragment(initial)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		s.root.AppendChild(n)
	}
	return s, nil
}

func newRoot() *html.Node {
	return &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
}

// Markup renders the surface contents.
func (s *HTMLSurface) Markup() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return renderChildren(s.root)
}

// SetMarkup displays new markup.
func (s *HTMLSurface) SetMarkup(m string) error {
	nodes, err := markup.ParseFragment(m)
	if err != nil {
		return err
	}
	next := newRoot()
	for _, n := range nodes {
		next.AppendChild(n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders++
	if sameShape(s.root, next) {
		patchText(s.root, next)
		if s.sel != nil && s.sel.Type == html.TextNode {
			s.selOff = clampByte(s.sel.Data, s.selOff)
		}
		return nil
	}
	s.root = next
	s.sel = nil
	s.selOff = 0
	return nil
}

// Root returns the current tree. Callers must not mutate it.
func (s *HTMLSurface) Root() *html.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// Selection returns the caret position.
func (s *HTMLSurface) Selection() (*html.Node, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sel == nil {
		return nil, 0, false
	}
	return s.sel, s.selOff, true
}

// Select moves the caret. A nil node clears it.
func (s *HTMLSurface) Select(n *html.Node, off int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == nil {
		s.sel, s.selOff = nil, 0
		return nil
	}
	if !contains(s.root, n) {
		return ErrDetached
	}
	if off < 0 {
		off = 0
	}
	if n.Type == html.TextNode {
		off = clampByte(n.Data, off)
	} else if kids := childCount(n); off > kids {
		off = kids
	}
	s.sel, s.selOff = n, off
	return nil
}

// AfterRender queues fn for the next idle tick.
func (s *HTMLSurface) AfterRender(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = append(s.idle, fn)
}

// Idle runs the queued AfterRender callbacks and reports how many ran.
func (s *HTMLSurface) Idle() int {
	s.mu.Lock()
	queued := s.idle
	s.idle = nil
	s.mu.Unlock()

	for _, fn := range queued {
		fn()
	}
	return len(queued)
}

// Renders reports how many times SetMarkup has been applied.
func (s *HTMLSurface) Renders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renders
}

// Text returns the visible plain text for a view.
func (s *HTMLSurface) Text(view markup.View) (string, error) {
	return markup.PlainText(s.Markup(), view)
}

func renderChildren(root *html.Node) string {
	var nodes []*html.Node
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		nodes = append(nodes, c)
	}
	return markup.Render(nodes...)
}

func contains(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

func childCount(n *html.Node) int {
	i := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		i++
	}
	return i
}

// sameShape reports whether two trees differ at most in text content.
func sameShape(a, b *html.Node) bool {
	if a.Type != b.Type || (a.Type != html.TextNode && a.Data != b.Data) {
		return false
	}
	if len(a.Attr) != len(b.Attr) {
		return false
	}
	for i := range a.Attr {
		if a.Attr[i] != b.Attr[i] {
			return false
		}
	}
	ca, cb := a.FirstChild, b.FirstChild
	for ca != nil && cb != nil {
		if !sameShape(ca, cb) {
			return false
		}
		ca, cb = ca.NextSibling, cb.NextSibling
	}
	return ca == nil && cb == nil
}

func patchText(dst, src *html.Node) {
	if dst.Type == html.TextNode {
		dst.Data = src.Data
		return
	}
	for cd, cs := dst.FirstChild, src.FirstChild; cd != nil && cs != nil; cd, cs = cd.NextSibling, cs.NextSibling {
		patchText(cd, cs)
	}
}
