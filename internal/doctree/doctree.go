package doctree

import (
	"fmt"
	"strings"
)

// DocTree is the root of a parsed document.
type DocTree struct {
	Title    string     // Document title (from metadata or filename)
	Children []*DocNode // Top-level sections
}

// DocNode is a recursive section in the document tree.
type DocNode struct {
	Title    string     // Section heading (empty for leaf text)
	Text     string     // Text content of this node (may be empty for container nodes)
	Page     int        // Source page/line (0 if N/A)
	Children []*DocNode // Subsections
}

// Chunk is a window of flattened document content sent for analysis.
// Start and End are byte offsets into the flattened content.
type Chunk struct {
	Text       string
	Index      int
	Start      int
	End        int
	Breadcrumb []string // Heading hierarchy at Start, e.g. ["Terms", "Payment"]
	PageStart  int
	PageEnd    int
}

// Paragraph is one block of flattened content.
type Paragraph struct {
	Start      int
	End        int
	Heading    bool
	Breadcrumb []string
	Page       int
}

// Flat is a document tree rendered to the plain content a reviewer edits.
type Flat struct {
	Content    string
	Paragraphs []Paragraph
}

// paragraphSep separates blocks in flattened content.
const paragraphSep = "\n\n"

// Flatten renders headings and text in document order, one block per
// paragraph, and records where each block starts.
func Flatten(tree *DocTree) Flat {
	var b strings.Builder
	var paras []Paragraph

	add := func(text string, heading bool, bc []string, page int) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString(paragraphSep)
		}
		start := b.Len()
		b.WriteString(text)
		paras = append(paras, Paragraph{
			Start:      start,
			End:        b.Len(),
			Heading:    heading,
			Breadcrumb: bc,
			Page:       page,
		})
	}

	var walk func(n *DocNode, parent []string)
	walk = func(n *DocNode, parent []string) {
		bc := parent
		if n.Title != "" {
			bc = append(append([]string(nil), parent...), n.Title)
			add(n.Title, true, bc, n.Page)
		}
		for _, block := range strings.Split(n.Text, paragraphSep) {
			add(block, false, bc, n.Page)
		}
		for _, c := range n.Children {
			walk(c, bc)
		}
	}
	if tree != nil {
		for _, c := range tree.Children {
			walk(c, nil)
		}
	}
	return Flat{Content: b.String(), Paragraphs: paras}
}

// Anchors maps stable paragraph keys to their start offsets.
func (f Flat) Anchors() map[string]int {
	out := make(map[string]int, len(f.Paragraphs))
	for i, p := range f.Paragraphs {
		out[fmt.Sprintf("p%d", i)] = p.Start
		if p.Heading {
			out["section:"+strings.Join(p.Breadcrumb, " > ")] = p.Start
		}
	}
	return out
}

// Builder assembles a DocTree from a stream of headings and text blocks,
// nesting each block under the most recent heading of a lower level.
type Builder struct {
	root  *DocNode
	stack []builderEntry
	text  strings.Builder
}

type builderEntry struct {
	node  *DocNode
	level int
}

func NewBuilder(title string) *Builder {
	root := &DocNode{Title: title}
	return &Builder{root: root, stack: []builderEntry{{node: root}}}
}

// Heading opens a section at level (1 is outermost).
func (b *Builder) Heading(level int, title string) {
	b.flush()
	n := &DocNode{Title: title}
	for len(b.stack) > 1 && b.stack[len(b.stack)-1].level >= level {
		b.stack = b.stack[:len(b.stack)-1]
	}
	parent := b.stack[len(b.stack)-1].node
	parent.Children = append(parent.Children, n)
	b.stack = append(b.stack, builderEntry{node: n, level: level})
}

// Text appends a paragraph to the current section.
func (b *Builder) Text(t string) {
	t = strings.TrimSpace(t)
	if t == "" {
		return
	}
	if b.text.Len() > 0 {
		b.text.WriteString(paragraphSep)
	}
	b.text.WriteString(t)
}

// Tree finishes the document. Text that precedes every heading becomes the
// first child so no content is lost.
func (b *Builder) Tree() *DocTree {
	b.flush()
	tree := &DocTree{Title: b.root.Title, Children: b.root.Children}
	if b.root.Text != "" {
		tree.Children = append([]*DocNode{{Text: b.root.Text}}, tree.Children...)
	}
	return tree
}

func (b *Builder) flush() {
	t := strings.TrimSpace(b.text.String())
	b.text.Reset()
	if t == "" {
		return
	}
	top := b.stack[len(b.stack)-1].node
	if top.Text != "" {
		top.Text += paragraphSep + t
	} else {
		top.Text = t
	}
}
