// Package bootstrap assembles pipeline components from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/chat"
	"ragchat/internal/chunker"
	"ragchat/internal/config"
	"ragchat/internal/domain"
	"ragchat/internal/embedding/openai"
	"ragchat/internal/embedding/tfidf"
	"ragchat/internal/gemini"
	"ragchat/internal/pipeline"
	"ragchat/internal/retriever"
	"ragchat/internal/source"
	"ragchat/internal/summarizer"
	"ragchat/internal/vectorstore/memory"
	"ragchat/internal/vectorstore/qdrant"
)

// Options overrides parts of the assembly, mainly for tests.
type Options struct {
	// SourceURL replaces config.DefaultSourceURL.
	SourceURL string
	// LLMBaseURL points the Gemini client at another endpoint.
	LLMBaseURL string
	// Namespace is appended to the Qdrant collection name so that
	// concurrently built pipelines do not share an index.
	Namespace string
	Fetcher   domain.Fetcher
	Logger    *zap.Logger
}

// NewBuilder returns a chat.Builder that assembles a fresh pipeline, with
// its own vector store and clients, on every call.
func NewBuilder(cfg *config.AppConfig, apiKey string, opts Options) chat.Builder {
	return func(ctx context.Context) (chat.Pipeline, error) {
		p, err := Build(ctx, cfg, apiKey, opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Build assembles and builds one pipeline.
func Build(ctx context.Context, cfg *config.AppConfig, apiKey string, opts Options) (*pipeline.Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var llmOpts []gemini.Option
	llmOpts = append(llmOpts, gemini.WithModel(cfg.LLM.Model))
	baseURL := cfg.LLM.BaseURL
	if opts.LLMBaseURL != "" {
		baseURL = opts.LLMBaseURL
	}
	if baseURL != "" {
		llmOpts = append(llmOpts, gemini.WithBaseURL(baseURL))
	}
	if cfg.LLM.Temperature != nil {
		llmOpts = append(llmOpts, gemini.WithTemperature(*cfg.LLM.Temperature))
	}
	llm, err := gemini.New(ctx, apiKey, llmOpts...)
	if err != nil {
		return nil, err
	}

	emb, err := newEmbedder(cfg, llm)
	if err != nil {
		return nil, err
	}
	st := newStore(cfg, opts.Namespace)

	mode, err := retriever.ParseMode(cfg.Retriever.Mode)
	if err != nil {
		return nil, err
	}

	var sum domain.Summarizer
	if cfg.Summarizer.Type == "frequency" {
		sum = summarizer.NewFrequencySummarizer()
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = source.NewURLFetcher(30 * time.Second)
	}
	url := opts.SourceURL
	if url == "" {
		url = config.DefaultSourceURL
	}

	return pipeline.Build(ctx, pipeline.Config{
		SourceURL:        url,
		TopK:             cfg.Retriever.TopK,
		Mode:             mode,
		Rerank:           cfg.Retriever.RerankEnabled(),
		Candidates:       cfg.Retriever.Candidates,
		SystemPrompt:     cfg.LLM.SystemPrompt,
		SummarySentences: cfg.Summarizer.MaxSentences,
	}, pipeline.Deps{
		Fetcher:    fetcher,
		Chunker:    chunker.NewTokenChunker(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap()),
		Embedder:   emb,
		Store:      st,
		LLM:        llm,
		Reranker:   retriever.OverlapReranker{},
		Summarizer: sum,
		Logger:     logger,
	})
}

func newEmbedder(cfg *config.AppConfig, llm *gemini.Client) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "gemini":
		return llm.Embedder(cfg.Embedder.Model), nil
	case "tfidf":
		return tfidf.NewEmbedder(), nil
	case "openai":
		oc := cfg.Embedder.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:    oc.BaseURL,
			APIKeyEnv:  oc.APIKeyEnv,
			Model:      cfg.Embedder.Model,
			Timeout:    time.Duration(oc.TimeoutSecs) * time.Second,
			MaxRetries: oc.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}

func newStore(cfg *config.AppConfig, namespace string) domain.VectorStore {
	if cfg.VectorStore.Type == "qdrant" {
		q := cfg.VectorStore.Qdrant
		collection := q.Collection
		if namespace != "" {
			collection += "_" + namespace
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        q.URL,
			APIKey:     q.APIKey,
			Collection: collection,
			Timeout:    time.Duration(q.TimeoutSecs) * time.Second,
		})
	}
	return memory.NewStorage()
}
