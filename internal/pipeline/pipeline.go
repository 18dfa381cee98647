// Package pipeline builds the retrieval-augmented answering handle over one
// source document: fetch, chunk, embed, index, then answer and evaluate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ragchat/internal/domain"
	"ragchat/internal/retriever"
)

// embedConcurrency bounds parallel embedding calls during ingestion.
const embedConcurrency = 4

// Config holds the pipeline parameters.
type Config struct {
	SourceURL    string
	TopK         int
	Mode         retriever.Mode
	Rerank       bool
	Candidates   int
	SystemPrompt string
	// SummarySentences is the length of the document summary; 0 disables it.
	SummarySentences int
}

// Deps are the collaborators the pipeline is assembled from.
type Deps struct {
	Fetcher    domain.Fetcher
	Chunker    domain.Chunker
	Embedder   domain.Embedder
	Store      domain.VectorStore
	LLM        domain.LLM
	Reranker   domain.Reranker
	Summarizer domain.Summarizer
	Logger     *zap.Logger
}

// Exchange is the most recent answered question and the context it used.
type Exchange struct {
	Question string
	Contexts []string
	Answer   string
}

// Pipeline answers questions about the indexed document. Calls are
// serialized; the underlying collaborators are not assumed to be safe for
// concurrent question streams.
type Pipeline struct {
	cfg       Config
	retriever *retriever.Hybrid
	store     domain.VectorStore
	llm       domain.LLM
	logger    *zap.Logger
	doc       domain.Document
	chunks    int
	summary   string

	mu   sync.Mutex
	last *Exchange
}

// Build fetches the source document and indexes it. It returns either a
// fully usable pipeline or an error.
func Build(ctx context.Context, cfg Config, deps Deps) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 2
	}
	if cfg.Mode == "" {
		cfg.Mode = retriever.ModeOR
	}

	doc, err := deps.Fetcher.Fetch(ctx, cfg.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}
	chunks, err := deps.Chunker.Chunk(doc)
	if err != nil {
		return nil, fmt.Errorf("chunk source: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("chunk source: %s produced no chunks", cfg.SourceURL)
	}
	logger.Info("source loaded",
		zap.String("url", cfg.SourceURL),
		zap.String("title", doc.Title),
		zap.Int("chunks", len(chunks)),
	)

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}
	if err := deps.Embedder.Prepare(ctx, texts); err != nil {
		return nil, fmt.Errorf("prepare embedder: %w", err)
	}
	vectors, err := embedAll(ctx, deps.Embedder, texts)
	if err != nil {
		return nil, err
	}
	// Start from an empty index; Clear may drop a remote collection, so
	// Init comes after it.
	if err := deps.Store.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear vector store: %w", err)
	}
	if err := deps.Store.Init(ctx, len(vectors[0])); err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	if err := deps.Store.Upsert(ctx, chunks, vectors); err != nil {
		return nil, fmt.Errorf("index chunks: %w", err)
	}
	logger.Info("chunks indexed", zap.String("embedder", deps.Embedder.Name()), zap.Int("dimension", len(vectors[0])))

	opts := []retriever.Option{retriever.WithMode(cfg.Mode), retriever.WithCandidates(cfg.Candidates)}
	if cfg.Rerank {
		rr := deps.Reranker
		if rr == nil {
			rr = retriever.OverlapReranker{}
		}
		opts = append(opts, retriever.WithReranker(rr))
	}

	p := &Pipeline{
		cfg:       cfg,
		retriever: retriever.NewHybrid(deps.Embedder, deps.Store, retriever.NewKeywordIndex(chunks), opts...),
		store:     deps.Store,
		llm:       deps.LLM,
		logger:    logger,
		doc:       doc,
		chunks:    len(chunks),
	}
	if deps.Summarizer != nil && cfg.SummarySentences > 0 {
		summary, err := deps.Summarizer.Summarize(doc.Content, cfg.SummarySentences)
		if err != nil {
			// The summary is decoration; the pipeline is usable without it.
			logger.Warn("summarize source", zap.Error(err))
		}
		p.summary = summary
	}
	return p, nil
}

func (d Deps) validate() error {
	var missing []string
	if d.Fetcher == nil {
		missing = append(missing, "fetcher")
	}
	if d.Chunker == nil {
		missing = append(missing, "chunker")
	}
	if d.Embedder == nil {
		missing = append(missing, "embedder")
	}
	if d.Store == nil {
		missing = append(missing, "vector store")
	}
	if d.LLM == nil {
		missing = append(missing, "llm")
	}
	if len(missing) > 0 {
		return fmt.Errorf("pipeline: missing %v", missing)
	}
	return nil
}

func embedAll(ctx context.Context, emb domain.Embedder, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i := range texts {
		g.Go(func() error {
			v, err := emb.Embed(gctx, texts[i])
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", i, err)
			}
			if len(v) == 0 {
				return fmt.Errorf("embed chunk %d: empty vector", i)
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Document returns the indexed source document.
func (p *Pipeline) Document() domain.Document { return p.doc }

// Chunks returns the number of indexed chunks.
func (p *Pipeline) Chunks() int { return p.chunks }

// Summary returns a short extractive summary of the source, or "".
func (p *Pipeline) Summary() string { return p.summary }

// Answer retrieves context for question and asks the LLM. The exchange is
// kept for [Pipeline.Evaluate].
func (p *Pipeline) Answer(ctx context.Context, question string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	results, err := p.retriever.Retrieve(ctx, question, p.cfg.TopK)
	if err != nil {
		return "", fmt.Errorf("retrieve: %w", err)
	}
	contexts := make([]string, len(results))
	for i, r := range results {
		contexts[i] = r.Chunk.Text
	}
	answer, err := p.llm.Generate(ctx, p.cfg.SystemPrompt, BuildPrompt(question, contexts))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	p.logger.Debug("answered",
		zap.String("question", question),
		zap.Int("contexts", len(contexts)),
		zap.Int("answer_len", len(answer)),
	)
	p.last = &Exchange{Question: question, Contexts: contexts, Answer: answer}
	return answer, nil
}

// Close drops the pipeline's index. The pipeline must not be used
// afterwards.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear vector store: %w", err)
	}
	p.logger.Debug("index released", zap.String("url", p.cfg.SourceURL))
	return nil
}

// LastExchange returns a copy of the most recent exchange.
func (p *Pipeline) LastExchange() (Exchange, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Exchange{}, false
	}
	ex := *p.last
	ex.Contexts = append([]string(nil), p.last.Contexts...)
	return ex, true
}

// ErrNoExchange is returned by Evaluate before any question was answered.
var ErrNoExchange = errors.New("no question has been answered yet")
