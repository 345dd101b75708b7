package indexer

import (
	"strings"
	"unicode/utf8"
)

// Chunker splits text into overlapping, boundary-aware chunks.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in bytes).
// An overlap that is not smaller than the chunk size is clamped to a quarter of it.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 4
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits text using the chunker's size and overlap.
func (c *Chunker) Chunk(text string) []string {
	return Chunk(text, c.chunkSize, c.chunkOverlap)
}

// span is a byte range [start, end) of the chunked text.
type span struct {
	start, end int
}

// Chunk splits text into windows of at most maxSize bytes that overlap by overlap bytes.
// A window that does not reach the end of the text is shortened to end just after the
// last '.' or '\n' in it, as long as that boundary lies past the middle of the window.
// Returned chunks are trimmed and never empty.
func Chunk(text string, maxSize, overlap int) []string {
	spans := chunkSpans(text, maxSize, overlap)
	chunks := make([]string, 0, len(spans))
	for _, s := range spans {
		if c := strings.TrimSpace(text[s.start:s.end]); c != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func chunkSpans(text string, maxSize, overlap int) []span {
	n := len(text)
	if n == 0 {
		return nil
	}
	if maxSize <= 0 {
		return []span{{0, n}}
	}
	var spans []span
	start := 0
	for start < n {
		end := start + maxSize
		if end >= n {
			end = n
		} else {
			end = runeFloor(text, end)
			if end <= start {
				// maxSize is smaller than the rune at start
				_, size := utf8.DecodeRuneInString(text[start:])
				end = start + size
			}
			window := text[start:end]
			if i := lastBoundary(window); i > maxSize/2 {
				end = start + i + 1
			}
		}
		spans = append(spans, span{start, end})
		if end >= n {
			break
		}
		next := runeFloor(text, end-overlap)
		if next <= start {
			next = end
		}
		start = next
	}
	return spans
}

func lastBoundary(window string) int {
	dot := strings.LastIndexByte(window, '.')
	nl := strings.LastIndexByte(window, '\n')
	if nl > dot {
		return nl
	}
	return dot
}

// runeFloor moves i back to the start of the rune containing it.
func runeFloor(text string, i int) int {
	if i <= 0 {
		return 0
	}
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}
