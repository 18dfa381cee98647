package chunker

import (
	"strconv"
	"strings"

	"ragchat/internal/domain"
	"ragchat/internal/textutil"
)

const (
	DefaultChunkSize    = 1024
	DefaultChunkOverlap = 50
)

// TokenChunker packs whole sentences into chunks of at most size
// whitespace-delimited units. Consecutive chunks share trailing sentences
// worth at most overlap units.
type TokenChunker struct {
	size    int
	overlap int
}

func NewTokenChunker(size, overlap int) *TokenChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &TokenChunker{size: size, overlap: overlap}
}

func (c *TokenChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	units := c.pieces(textutil.Sentences(document.Content))
	if len(units) == 0 {
		return nil, nil
	}
	var chunks []domain.Chunk
	start := 0
	idx := 0
	for start < len(units) {
		end := start
		n := 0
		for end < len(units) && (end == start || n+len(units[end]) <= c.size) {
			n += len(units[end])
			end++
		}
		parts := make([]string, 0, end-start)
		for _, u := range units[start:end] {
			parts = append(parts, strings.Join(u, " "))
		}
		chunks = append(chunks, domain.Chunk{
			DocumentID: document.ID,
			ChunkID:    document.ID + ":" + strconv.Itoa(idx),
			Text:       strings.Join(parts, " "),
			Index:      idx,
		})
		if end == len(units) {
			break
		}
		// Step back over trailing pieces that fit the overlap budget, but
		// always make progress.
		next := end
		carried := 0
		for next-1 > start && carried+len(units[next-1]) <= c.overlap {
			next--
			carried += len(units[next])
		}
		start = next
		idx++
	}
	return chunks, nil
}

// pieces turns sentences into word slices, cutting sentences longer than
// the chunk size into size-unit pieces.
func (c *TokenChunker) pieces(sentences []string) [][]string {
	var out [][]string
	for _, s := range sentences {
		words := strings.Fields(s)
		for len(words) > c.size {
			out = append(out, words[:c.size])
			words = words[c.size:]
		}
		if len(words) > 0 {
			out = append(out, words)
		}
	}
	return out
}
