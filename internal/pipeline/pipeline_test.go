package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/chunker"
	"ragchat/internal/config"
	"ragchat/internal/domain"
	"ragchat/internal/embedding/tfidf"
	"ragchat/internal/pipeline"
	"ragchat/internal/retriever"
	"ragchat/internal/summarizer"
	"ragchat/internal/vectorstore/memory"
)

const niger = `Niger is a landlocked country in West Africa. Niamey is the capital of Niger and its largest city.
The Niger River flows through the southwest of the country. The Sahara covers much of the north.
Uranium is a major export of Niger.`

type fetcherFunc func(ctx context.Context, url string) (domain.Document, error)

func (f fetcherFunc) Fetch(ctx context.Context, url string) (domain.Document, error) {
	return f(ctx, url)
}

func staticFetcher(content string) domain.Fetcher {
	return fetcherFunc(func(_ context.Context, url string) (domain.Document, error) {
		return domain.Document{ID: "niger", URL: url, Title: "Niger", Content: content}, nil
	})
}

type call struct{ system, prompt string }

type fakeLLM struct {
	mu     sync.Mutex
	calls  []call
	answer string
	score  string
	err    error
}

func (f *fakeLLM) Generate(_ context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{system, prompt})
	if f.err != nil {
		return "", f.err
	}
	if strings.HasPrefix(prompt, "Rate from 0 to 10") {
		return f.score, nil
	}
	return f.answer, nil
}

func deps(llm domain.LLM, fetcher domain.Fetcher) pipeline.Deps {
	return pipeline.Deps{
		Fetcher:    fetcher,
		Chunker:    chunker.NewTokenChunker(12, 3),
		Embedder:   tfidf.NewEmbedder(),
		Store:      memory.NewStorage(),
		LLM:        llm,
		Summarizer: summarizer.NewFrequencySummarizer(),
	}
}

func pipelineConfig() pipeline.Config {
	return pipeline.Config{
		SourceURL:        "https://en.wikipedia.org/wiki/Niger",
		TopK:             2,
		Mode:             retriever.ModeOR,
		Rerank:           true,
		SystemPrompt:     config.DefaultSystemPrompt,
		SummarySentences: 1,
	}
}

func build(t *testing.T, llm domain.LLM) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.Build(context.Background(), pipelineConfig(), deps(llm, staticFetcher(niger)))
	require.NoError(t, err)
	return p
}

func TestBuild_MissingDeps(t *testing.T) {
	t.Parallel()
	_, err := pipeline.Build(context.Background(), pipelineConfig(), pipeline.Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetcher")
	assert.Contains(t, err.Error(), "llm")
}

func TestBuild_FetchError(t *testing.T) {
	t.Parallel()
	boom := errors.New("network down")
	fetcher := fetcherFunc(func(context.Context, string) (domain.Document, error) { return domain.Document{}, boom })
	_, err := pipeline.Build(context.Background(), pipelineConfig(), deps(&fakeLLM{}, fetcher))
	require.ErrorIs(t, err, boom)
}

func TestBuild_EmptyDocument(t *testing.T) {
	t.Parallel()
	_, err := pipeline.Build(context.Background(), pipelineConfig(), deps(&fakeLLM{}, staticFetcher("   ")))
	require.Error(t, err)
}

func TestBuild_IndexesAndSummarizes(t *testing.T) {
	t.Parallel()
	p := build(t, &fakeLLM{})
	assert.Greater(t, p.Chunks(), 1)
	assert.Equal(t, "Niger", p.Document().Title)
	assert.NotEmpty(t, p.Summary())
}

func TestClose_DropsIndex(t *testing.T) {
	t.Parallel()
	store := memory.NewStorage()
	d := deps(&fakeLLM{}, staticFetcher(niger))
	d.Store = store
	p, err := pipeline.Build(context.Background(), pipelineConfig(), d)
	require.NoError(t, err)
	require.Equal(t, p.Chunks(), store.Len())

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 0, store.Len())
}

func TestAnswer(t *testing.T) {
	t.Parallel()
	llm := &fakeLLM{answer: "Niamey"}
	p := build(t, llm)

	got, err := p.Answer(context.Background(), "What is the capital of Niger?")
	require.NoError(t, err)
	assert.Equal(t, "Niamey", got)

	require.Len(t, llm.calls, 1)
	assert.Equal(t, config.DefaultSystemPrompt, llm.calls[0].system)
	assert.Contains(t, llm.calls[0].prompt, "Niamey is the capital of Niger")
	assert.Contains(t, llm.calls[0].prompt, "Question: What is the capital of Niger?")

	ex, ok := p.LastExchange()
	require.True(t, ok)
	assert.Equal(t, "What is the capital of Niger?", ex.Question)
	assert.Equal(t, "Niamey", ex.Answer)
	assert.Len(t, ex.Contexts, 2)
}

func TestAnswer_LLMError(t *testing.T) {
	t.Parallel()
	llm := &fakeLLM{err: errors.New("quota exceeded")}
	p := build(t, llm)
	_, err := p.Answer(context.Background(), "What is the capital of Niger?")
	require.ErrorIs(t, err, llm.err)
	_, ok := p.LastExchange()
	assert.False(t, ok)
}

func TestEvaluate_BeforeAnyAnswer(t *testing.T) {
	t.Parallel()
	p := build(t, &fakeLLM{})
	_, err := p.Evaluate(context.Background())
	require.ErrorIs(t, err, pipeline.ErrNoExchange)
}

func TestEvaluate_RAGTriad(t *testing.T) {
	t.Parallel()
	llm := &fakeLLM{answer: "The capital is Niamey.", score: "Score: 8"}
	p := build(t, llm)
	_, err := p.Answer(context.Background(), "What is the capital of Niger?")
	require.NoError(t, err)

	raw, err := p.Evaluate(context.Background())
	require.NoError(t, err)
	var report pipeline.Report
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, pipeline.Report{
		Question:         "What is the capital of Niger?",
		Answer:           "The capital is Niamey.",
		ContextRelevancy: 8,
		AnswerRelevancy:  8,
		Groundedness:     8,
	}, report)
	// 1 answer + 2 contexts + 1 answer relevancy + 1 statement.
	assert.Len(t, llm.calls, 5)
}

func TestEvaluate_UnparseableJudge(t *testing.T) {
	t.Parallel()
	llm := &fakeLLM{answer: "Niamey.", score: "no idea"}
	p := build(t, llm)
	_, err := p.Answer(context.Background(), "capital?")
	require.NoError(t, err)
	_, err = p.Evaluate(context.Background())
	require.Error(t, err)
}

func TestParseScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want float64
	}{
		{"7", 7},
		{" 8.5\n", 8.5},
		{"Score: 9/10", 9},
		{"42", 10},
	}
	for _, tt := range tests {
		got, err := pipeline.ParseScore(tt.in)
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}
	_, err := pipeline.ParseScore("none")
	require.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()
	got := pipeline.BuildPrompt("Q?", []string{"first", " second "})
	assert.Contains(t, got, "[1] first\n[2] second\n")
	assert.True(t, strings.HasSuffix(got, "Question: Q?\nAnswer:"))
	assert.Contains(t, pipeline.BuildPrompt("Q?", nil), "(no context was retrieved)")
}
