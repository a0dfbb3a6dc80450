package chunker

import (
	"github.com/dgallion1/redliner/internal/doctree"
)

// Config controls chunking behavior.
type Config struct {
	ChunkSize    int // Target chunk size in tokens.
	ChunkOverlap int // Overlap between consecutive chunks in tokens.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    1500,
		ChunkOverlap: 200,
	}
}

// unit is the smallest span a chunk boundary may fall on.
type unit struct {
	start, end int
	tokens     int
	para       int
	heading    bool
}

// Chunk splits flattened content into windows of roughly cfg.ChunkSize
// tokens. Windows break on paragraph boundaries, or sentence boundaries
// inside an oversized paragraph, and consecutive windows share up to
// cfg.ChunkOverlap tokens. Every paragraph lands in at least one chunk and
// each chunk's Text is exactly Content[Start:End].
func Chunk(flat doctree.Flat, cfg Config) []doctree.Chunk {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}

	units := splitUnits(flat, cfg.ChunkSize)
	var chunks []doctree.Chunk
	for i := 0; i < len(units); {
		j := i
		total := units[i].tokens
		for j+1 < len(units) && total+units[j+1].tokens <= cfg.ChunkSize {
			j++
			total += units[j].tokens
		}
		// A heading opens the next chunk rather than closing this one.
		for j > i && j+1 < len(units) && units[j].heading {
			j--
		}
		chunks = append(chunks, makeChunk(flat, units[i:j+1], len(chunks)))

		if j+1 >= len(units) {
			break
		}
		next := j + 1
		overlap := 0
		for k := j; k > i; k-- {
			if overlap+units[k].tokens > cfg.ChunkOverlap {
				break
			}
			overlap += units[k].tokens
			next = k
		}
		i = next
	}
	return chunks
}

func makeChunk(flat doctree.Flat, us []unit, index int) doctree.Chunk {
	first, last := us[0], us[len(us)-1]
	c := doctree.Chunk{
		Text:  flat.Content[first.start:last.end],
		Index: index,
		Start: first.start,
		End:   last.end,
	}
	for k, u := range us {
		p := flat.Paragraphs[u.para]
		if k == 0 {
			c.Breadcrumb = copyBreadcrumb(p.Breadcrumb)
			c.PageStart = p.Page
		}
		c.PageEnd = max(c.PageEnd, p.Page)
	}
	return c
}

// splitUnits turns paragraphs into units, breaking any paragraph larger than
// limit into sentences.
func splitUnits(flat doctree.Flat, limit int) []unit {
	var out []unit
	for i, p := range flat.Paragraphs {
		text := flat.Content[p.Start:p.End]
		tokens := EstimateTokens(text)
		if tokens <= limit {
			out = append(out, unit{start: p.Start, end: p.End, tokens: tokens, para: i, heading: p.Heading})
			continue
		}
		for _, s := range sentenceSpans(text) {
			out = append(out, unit{
				start:  p.Start + s[0],
				end:    p.Start + s[1],
				tokens: EstimateTokens(text[s[0]:s[1]]),
				para:   i,
			})
		}
	}
	return out
}

// sentenceSpans returns [start, end) spans covering text, each ending after
// terminal punctuation followed by a space.
func sentenceSpans(text string) [][2]int {
	var spans [][2]int
	start := 0
	for i := 0; i+1 < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' {
				spans = append(spans, [2]int{start, i + 1})
				start = i + 1
			}
		}
	}
	if start < len(text) {
		spans = append(spans, [2]int{start, len(text)})
	}
	return spans
}

func copyBreadcrumb(bc []string) []string {
	if len(bc) == 0 {
		return nil
	}
	out := make([]string, len(bc))
	copy(out, bc)
	return out
}
