package retriever

import (
	"math"
	"sort"

	"ragchat/internal/domain"
	"ragchat/internal/textutil"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// KeywordIndex scores chunks against a query with Okapi BM25.
type KeywordIndex struct {
	chunks []domain.Chunk
	tf     []map[string]int
	lens   []float64
	df     map[string]int
	avgLen float64
}

// NewKeywordIndex indexes the given chunks.
func NewKeywordIndex(chunks []domain.Chunk) *KeywordIndex {
	idx := &KeywordIndex{
		chunks: chunks,
		tf:     make([]map[string]int, len(chunks)),
		lens:   make([]float64, len(chunks)),
		df:     make(map[string]int),
	}
	total := 0.0
	for i, ch := range chunks {
		terms := textutil.Terms(ch.Text)
		counts := make(map[string]int, len(terms))
		for _, t := range terms {
			counts[t]++
		}
		for t := range counts {
			idx.df[t]++
		}
		idx.tf[i] = counts
		idx.lens[i] = float64(len(terms))
		total += idx.lens[i]
	}
	if len(chunks) > 0 {
		idx.avgLen = total / float64(len(chunks))
	}
	return idx
}

// Search returns up to topK chunks with a positive BM25 score, best first.
func (k *KeywordIndex) Search(query string, topK int) []domain.SearchResult {
	q := textutil.TermSet(query)
	if len(q) == 0 || len(k.chunks) == 0 {
		return nil
	}
	n := float64(len(k.chunks))
	var out []domain.SearchResult
	for i := range k.chunks {
		score := 0.0
		for t := range q {
			f := float64(k.tf[i][t])
			if f == 0 {
				continue
			}
			df := float64(k.df[t])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := 1.0
			if k.avgLen > 0 {
				norm = 1 - bm25B + bm25B*k.lens[i]/k.avgLen
			}
			score += idf * f * (bm25K1 + 1) / (f + bm25K1*norm)
		}
		if score > 0 {
			out = append(out, domain.SearchResult{Chunk: k.chunks[i], Score: score})
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
