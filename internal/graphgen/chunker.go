package graphgen

import "strings"

const (
	DefaultChunkSize    = 12_000
	DefaultChunkOverlap = 1_000
)

// Chunk is one window of the source document. Start and End are byte offsets
// into the original text.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// ChunkDocument splits text into overlapping windows, preferring to cut at a
// paragraph boundary in the back half of each window.
func ChunkDocument(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []Chunk{{Index: 0, Text: text, Start: 0, End: len(text)}}
	}

	var chunks []Chunk
	pos := 0
	for pos < len(text) {
		end := pos + size
		if end >= len(text) {
			end = len(text)
		} else if cut := paragraphCut(text, pos+size/2, end); cut > pos {
			end = cut
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  text[pos:end],
			Start: pos,
			End:   end,
		})
		if end == len(text) {
			break
		}
		next := end - overlap
		if next <= pos {
			next = pos + 1
		}
		pos = next
	}
	return chunks
}

// paragraphCut finds the last blank-line break inside [lo, hi), returning the
// offset just past it, or 0 when there is none.
func paragraphCut(text string, lo, hi int) int {
	if lo < 0 {
		lo = 0
	}
	if hi > len(text) {
		hi = len(text)
	}
	if lo >= hi {
		return 0
	}
	idx := strings.LastIndex(text[lo:hi], "\n\n")
	if idx < 0 {
		return 0
	}
	return lo + idx + 2
}
