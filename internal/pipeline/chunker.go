package pipeline

import (
	"strings"
	"unicode"

	"github.com/Lllllllleong/documentanalysisflow/internal/models"
)

const (
	DefaultChunkMaxChars = 12000
	DefaultChunkOverlap  = 200
)

// Chunker splits text into ordered chunks of at most MaxChars runes. Every
// chunk after the first starts with up to Overlap runes repeated from the
// end of the previous one.
type Chunker struct {
	MaxChars int
	Overlap  int
}

func (c Chunker) limits() (maxChars, overlap int) {
	maxChars, overlap = c.MaxChars, c.Overlap
	if maxChars <= 0 {
		maxChars = DefaultChunkMaxChars
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap > maxChars/2 {
		overlap = maxChars / 2
	}
	return maxChars, overlap
}

// NeedsSplit reports whether text is longer than one chunk.
func (c Chunker) NeedsSplit(text string) bool {
	maxChars, _ := c.limits()
	return len([]rune(text)) > maxChars
}

// Split returns the chunks of text. Text that fits in one chunk yields a
// single chunk; empty text yields none. Chunk boundaries prefer whitespace
// in the last fifth of the window.
func (c Chunker) Split(text string) []models.Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	maxChars, overlap := c.limits()

	var chunks []models.Chunk
	start := 0
	for start < n {
		ov := 0
		if start > 0 {
			ov = min(overlap, start)
		}
		end := min(start+maxChars-ov, n)
		if end < n {
			end = breakAt(runes, start, end, (maxChars-ov)/5)
		}
		chunks = append(chunks, models.Chunk{
			Index:       len(chunks),
			Start:       start - ov,
			End:         end,
			OverlapPrev: ov,
			Text:        string(runes[start-ov : end]),
		})
		start = end
	}
	return chunks
}

// breakAt moves end back to just after the nearest whitespace within window
// runes, keeping at least one rune of new content.
func breakAt(runes []rune, start, end, window int) int {
	for i := end - 1; i > start && i >= end-window; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}

// Join reassembles the text chunks were split from.
func Join(chunks []models.Chunk) string {
	var b strings.Builder
	for _, ch := range chunks {
		runes := []rune(ch.Text)
		b.WriteString(string(runes[min(ch.OverlapPrev, len(runes)):]))
	}
	return b.String()
}
