package domain

import "context"

// Document represents the fetched source page.
type Document struct {
	ID      string
	URL     string
	Title   string
	Content string
}

// Chunk is a contiguous part of a document used for indexing.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Text       string
	Index      int
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Fetcher loads a document from its source location.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// Embedder converts free text into a numeric vector representation.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Name() string
	Prepare(ctx context.Context, corpus []string) error
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// VectorStore persists vectors and supports similarity search.
type VectorStore interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float64) error
	Search(ctx context.Context, vector []float64, topK int) ([]SearchResult, error)
	Clear(ctx context.Context) error
}

// Reranker reorders retrieval candidates by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []SearchResult) ([]SearchResult, error)
}

// LLM generates a completion for a prompt under a system instruction.
type LLM interface {
	Generate(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
