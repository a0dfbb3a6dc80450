package export

import (
	"io"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/dgallion1/redliner/internal/redline"
)

const (
	diffContext = 3
	// Above this many line pairs the comparison degrades to a single hunk.
	maxDiffCells = 16 << 20
)

// diff writes a unified diff from the original snapshot to the final text.
func (e Exporter) diff(w io.Writer, doc *redline.Document) error {
	final, err := Final(doc)
	if err != nil {
		return err
	}
	name := doc.Metadata.FileName
	if name == "" {
		name = doc.ID
	}
	fd := &diff.FileDiff{
		OrigName: "a/" + name,
		NewName:  "b/" + name,
		Hunks:    Hunks(doc.OriginalContent, final),
	}
	if !doc.CreatedAt.IsZero() {
		orig, updated := doc.CreatedAt.UTC().Truncate(time.Second), doc.UpdatedAt.UTC().Truncate(time.Second)
		fd.OrigTime, fd.NewTime = &orig, &updated
	}
	if len(fd.Hunks) == 0 {
		return nil
	}
	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

type opKind byte

const (
	opEqual opKind = ' '
	opDel   opKind = '-'
	opIns   opKind = '+'
)

type lineOp struct {
	kind opKind
	line string
}

// Hunks compares a and b line by line and returns unified diff hunks with
// three lines of context.
func Hunks(a, b string) []*diff.Hunk {
	if a == b {
		return nil
	}
	al, bl := splitLines(a), splitLines(b)
	ops := lineOps(al, bl)

	var hunks []*diff.Hunk
	for i := 0; i < len(ops); {
		if ops[i].kind == opEqual {
			i++
			continue
		}
		// Expand backwards for context, then forwards until a gap of more
		// than twice the context separates changes.
		start := max(i-diffContext, 0)
		end := i
		for end < len(ops) {
			if ops[end].kind != opEqual {
				end++
				continue
			}
			run := end
			for run < len(ops) && ops[run].kind == opEqual {
				run++
			}
			if run == len(ops) || run-end > 2*diffContext {
				end = min(end+diffContext, len(ops))
				break
			}
			end = run
		}
		hunks = append(hunks, buildHunk(ops, start, end))
		i = end
	}
	return hunks
}

func buildHunk(ops []lineOp, start, end int) *diff.Hunk {
	origLine, newLine := 1, 1
	for _, op := range ops[:start] {
		if op.kind != opIns {
			origLine++
		}
		if op.kind != opDel {
			newLine++
		}
	}

	h := &diff.Hunk{OrigStartLine: int32(origLine), NewStartLine: int32(newLine)}
	var body strings.Builder
	for _, op := range ops[start:end] {
		body.WriteByte(byte(op.kind))
		body.WriteString(op.line)
		body.WriteByte('\n')
		if op.kind != opIns {
			h.OrigLines++
		}
		if op.kind != opDel {
			h.NewLines++
		}
	}
	if h.OrigLines == 0 {
		h.OrigStartLine--
	}
	if h.NewLines == 0 {
		h.NewStartLine--
	}
	h.Body = []byte(body.String())
	return h
}

// lineOps computes an edit script over lines using a longest common
// subsequence table.
func lineOps(a, b []string) []lineOp {
	// Trim the common prefix and suffix first; most reviews touch few lines.
	pre := 0
	for pre < len(a) && pre < len(b) && a[pre] == b[pre] {
		pre++
	}
	suf := 0
	for suf < len(a)-pre && suf < len(b)-pre && a[len(a)-1-suf] == b[len(b)-1-suf] {
		suf++
	}

	ops := make([]lineOp, 0, len(a)+len(b))
	for _, l := range a[:pre] {
		ops = append(ops, lineOp{opEqual, l})
	}
	ma, mb := a[pre:len(a)-suf], b[pre:len(b)-suf]

	if len(ma)*len(mb) > maxDiffCells {
		for _, l := range ma {
			ops = append(ops, lineOp{opDel, l})
		}
		for _, l := range mb {
			ops = append(ops, lineOp{opIns, l})
		}
	} else {
		ops = append(ops, lcsOps(ma, mb)...)
	}

	for _, l := range a[len(a)-suf:] {
		ops = append(ops, lineOp{opEqual, l})
	}
	return ops
}

func lcsOps(a, b []string) []lineOp {
	n, m := len(a), len(b)
	// lcs[i][j] is the LCS length of a[i:] and b[j:].
	lcs := make([][]int32, n+1)
	for i := range lcs {
		lcs[i] = make([]int32, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	ops := make([]lineOp, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, lineOp{opEqual, a[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, lineOp{opDel, a[i]})
			i++
		default:
			ops = append(ops, lineOp{opIns, b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, lineOp{opDel, a[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, lineOp{opIns, b[j]})
	}
	return ops
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
