package retriever

import (
	"context"
	"math"
	"sort"

	"ragchat/internal/domain"
	"ragchat/internal/textutil"
)

var _ domain.Reranker = OverlapReranker{}

// OverlapReranker rescores candidates by the Ochiai coefficient between the
// query terms and each chunk's terms: |A∩B| / sqrt(|A||B|). Ties keep the
// incoming order.
type OverlapReranker struct{}

func (OverlapReranker) Rerank(_ context.Context, query string, candidates []domain.SearchResult) ([]domain.SearchResult, error) {
	q := textutil.TermSet(query)
	out := make([]domain.SearchResult, len(candidates))
	for i, c := range candidates {
		out[i] = domain.SearchResult{Chunk: c.Chunk, Score: ochiai(q, textutil.TermSet(c.Chunk.Text))}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	return out, nil
}

func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}
