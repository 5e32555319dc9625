// Package chunk converts long text into overlapping windows with exact
// character positions, preferring paragraph and sentence boundaries.
package chunk

import (
	"fmt"
	"strings"
)

// Chunk is one contiguous window of the source text.
// Positions are rune offsets into the original text; Text always equals
// the original slice [StartPos:EndPos).
type Chunk struct {
	Index    int
	StartPos int
	EndPos   int
	Text     string
}

// Len returns the chunk length in runes.
func (c *Chunk) Len() int {
	return c.EndPos - c.StartPos
}

// boundaryMarkers are cut candidates in priority order. Within a window
// the highest-priority marker found wins; later markers are only
// consulted when earlier ones are absent.
var boundaryMarkers = []string{
	"\n\n\n", "\n\n", "\n",
	"。", "！", "？", "；",
	". ", "! ", "? ", "; ",
}

// sentenceMarkers are the subset used to trim overlap prefixes.
var sentenceMarkers = []string{
	"\n", "。", "！", "？", "；", ". ", "! ", "? ", "; ",
}

// Chunker implements the size+overlap policy.
type Chunker struct {
	size      int // target window size in runes
	overlap   int // overlap prefix budget in runes
	threshold int // texts at or below this stay a single chunk
}

// New creates a Chunker, clamping size to 100-2000 and overlap to 0..size/2.
func New(size, overlap, threshold int) *Chunker {
	if size < 100 {
		size = 100
	}
	if size > 2000 {
		size = 2000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap > size/2 {
		overlap = size / 2
	}
	if threshold <= 0 {
		threshold = 600
	}
	return &Chunker{size: size, overlap: overlap, threshold: threshold}
}

// Strategy returns the textual encoding of this policy, e.g. "size1000+overlap200".
func (c *Chunker) Strategy() string {
	return fmt.Sprintf("size%d+overlap%d", c.size, c.overlap)
}

// Chunk splits text into ordered chunks whose [start,end) ranges cover
// every character of text. Overlaps are allowed; gaps are not.
func (c *Chunker) Chunk(text string) []*Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	if n <= c.threshold {
		return []*Chunk{{Index: 0, StartPos: 0, EndPos: n, Text: text}}
	}

	var chunks []*Chunk
	pos := 0
	for pos < n {
		end := pos + c.size
		if end >= n {
			end = n
		} else {
			end = c.cutPoint(runes, pos, end)
			// Absorb a short tail instead of emitting a degenerate final chunk.
			if n-end < (c.size*2)/5 {
				end = n
			}
		}

		start := pos
		if len(chunks) > 0 && c.overlap > 0 {
			start = c.overlapStart(runes, pos)
		}

		chunks = append(chunks, &Chunk{
			Index:    len(chunks),
			StartPos: start,
			EndPos:   end,
			Text:     string(runes[start:end]),
		})
		pos = end
	}

	return chunks
}

// cutPoint searches the last ~20% of the window [winStart, winEnd) for
// the highest-priority boundary marker and cuts just after it. Without a
// marker the hard window edge stands.
func (c *Chunker) cutPoint(runes []rune, winStart, winEnd int) int {
	searchStart := winStart + (c.size*4)/5
	if searchStart >= winEnd {
		searchStart = winStart
	}
	segment := string(runes[searchStart:winEnd])

	for _, marker := range boundaryMarkers {
		if i := strings.LastIndex(segment, marker); i >= 0 {
			// i is a byte offset into segment; convert to runes.
			cut := searchStart + len([]rune(segment[:i])) + len([]rune(marker))
			if cut > winStart && cut <= winEnd {
				return cut
			}
		}
	}
	return winEnd
}

// overlapStart returns the start of the overlap prefix for a chunk whose
// window begins at pos. The prefix is at most the overlap budget and is
// trimmed forward to begin after a sentence boundary when one exists.
func (c *Chunker) overlapStart(runes []rune, pos int) int {
	start := pos - c.overlap
	if start < 0 {
		start = 0
	}
	prefix := string(runes[start:pos])

	best := -1
	for _, marker := range sentenceMarkers {
		if i := strings.Index(prefix, marker); i >= 0 {
			after := len([]rune(prefix[:i])) + len([]rune(marker))
			if best == -1 || after < best {
				best = after
			}
		}
	}
	if best > 0 && start+best < pos {
		return start + best
	}
	return start
}

// HasParagraphMarkers reports whether text contains paragraph-like
// structure worth chunking on.
func HasParagraphMarkers(text string) bool {
	for _, marker := range boundaryMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
