// Package retriever combines dense vector search with BM25 keyword search.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ragchat/internal/domain"
)

// Mode selects how the dense and keyword candidate sets are combined.
type Mode string

const (
	ModeOR  Mode = "OR"
	ModeAND Mode = "AND"
)

// ParseMode accepts "OR"/"AND" in any case. Empty means OR.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(ModeOR):
		return ModeOR, nil
	case string(ModeAND):
		return ModeAND, nil
	default:
		return "", fmt.Errorf("unknown retrieval mode %q: must be OR or AND", s)
	}
}

// rrfK damps reciprocal rank fusion.
const rrfK = 60

// Hybrid retrieves candidates from both legs, fuses them and optionally
// reranks before cutting to the requested size.
type Hybrid struct {
	embedder   domain.Embedder
	store      domain.VectorStore
	keywords   *KeywordIndex
	reranker   domain.Reranker
	mode       Mode
	candidates int
}

// Option configures a [Hybrid].
type Option func(*Hybrid)

// WithReranker enables reranking of the fused candidates.
func WithReranker(r domain.Reranker) Option {
	return func(h *Hybrid) { h.reranker = r }
}

// WithMode sets the combination mode. Default is OR.
func WithMode(m Mode) Option {
	return func(h *Hybrid) { h.mode = m }
}

// WithCandidates sets how many results each leg contributes. Default is 10.
func WithCandidates(n int) Option {
	return func(h *Hybrid) {
		if n > 0 {
			h.candidates = n
		}
	}
}

func NewHybrid(embedder domain.Embedder, store domain.VectorStore, keywords *KeywordIndex, opts ...Option) *Hybrid {
	h := &Hybrid{embedder: embedder, store: store, keywords: keywords, mode: ModeOR, candidates: 10}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Retrieve returns at most topK chunks relevant to query.
func (h *Hybrid) Retrieve(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 2
	}
	k := h.candidates
	if k < topK {
		k = topK
	}
	dense, err := h.dense(ctx, query, k)
	if err != nil {
		return nil, err
	}
	var lexical []domain.SearchResult
	if h.keywords != nil {
		lexical = h.keywords.Search(query, k)
	}
	fused := Fuse(dense, lexical, h.mode)
	if h.reranker != nil && len(fused) > 0 {
		fused, err = h.reranker.Rerank(ctx, query, fused)
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}
	}
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

func (h *Hybrid) dense(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	vec, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	// A query with no known terms has nothing to compare.
	zero := true
	for _, v := range vec {
		if v != 0 {
			zero = false
			break
		}
	}
	if zero {
		return nil, nil
	}
	res, err := h.store.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return res, nil
}

// Fuse merges two ranked lists by chunk ID using reciprocal rank fusion.
// ModeOR keeps the union, ModeAND only chunks present in both lists.
// Results are ordered by fused score, ties by first appearance.
func Fuse(a, b []domain.SearchResult, mode Mode) []domain.SearchResult {
	type entry struct {
		chunk domain.Chunk
		score float64
		hits  int
		order int
	}
	byID := map[string]*entry{}
	var order []string
	add := func(list []domain.SearchResult) {
		seen := map[string]bool{}
		for rank, r := range list {
			id := r.Chunk.ChunkID
			if seen[id] {
				continue
			}
			seen[id] = true
			e, ok := byID[id]
			if !ok {
				e = &entry{chunk: r.Chunk, order: len(order)}
				byID[id] = e
				order = append(order, id)
			}
			e.score += 1.0 / float64(rrfK+rank+1)
			e.hits++
		}
	}
	add(a)
	add(b)
	out := make([]domain.SearchResult, 0, len(order))
	entries := make([]*entry, 0, len(order))
	for _, id := range order {
		e := byID[id]
		if mode == ModeAND && e.hits < 2 {
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].score > entries[j].score })
	for _, e := range entries {
		out = append(out, domain.SearchResult{Chunk: e.chunk, Score: e.score})
	}
	return out
}
