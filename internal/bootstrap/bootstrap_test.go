package bootstrap_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/bootstrap"
	"ragchat/internal/chat"
	"ragchat/internal/config"
	"ragchat/internal/domain"
)

type fetcherFunc func(ctx context.Context, url string) (domain.Document, error)

func (f fetcherFunc) Fetch(ctx context.Context, url string) (domain.Document, error) {
	return f(ctx, url)
}

const niger = "Niger is a landlocked country in West Africa. Its capital is Niamey. " +
	"The Niger River flows through the southwest of the country."

func geminiServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"` + reply + `"}]},"finishReason":"STOP"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func offlineConfig() *config.AppConfig {
	cfg := config.Default()
	cfg.Embedder.Type = "tfidf"
	return cfg
}

func TestBuild_Offline(t *testing.T) {
	t.Parallel()
	srv := geminiServer(t, "Niamey")
	var fetched string
	opts := bootstrap.Options{
		LLMBaseURL: srv.URL,
		Fetcher: fetcherFunc(func(_ context.Context, url string) (domain.Document, error) {
			fetched = url
			return domain.Document{ID: "niger", URL: url, Title: "Niger", Content: niger}, nil
		}),
	}

	p, err := bootstrap.Build(context.Background(), offlineConfig(), "key", opts)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSourceURL, fetched)
	assert.Equal(t, 1, p.Chunks())
	assert.NotEmpty(t, p.Summary())

	answer, err := p.Answer(context.Background(), "What is the capital of Niger?")
	require.NoError(t, err)
	assert.Equal(t, "Niamey", answer)
}

func TestNewBuilder_Session(t *testing.T) {
	t.Parallel()
	srv := geminiServer(t, "Niamey")
	build := bootstrap.NewBuilder(offlineConfig(), "key", bootstrap.Options{
		LLMBaseURL: srv.URL,
		Fetcher: fetcherFunc(func(_ context.Context, url string) (domain.Document, error) {
			return domain.Document{ID: "niger", URL: url, Content: niger}, nil
		}),
	})

	s := chat.NewSession(build)
	require.NoError(t, s.Init(context.Background()))
	assert.NotEmpty(t, s.Summary())

	turn, err := s.Submit(context.Background(), "capital?")
	require.NoError(t, err)
	assert.Equal(t, "Niamey", turn.Answer)
	assert.Equal(t, "You: capital?\nBot: Niamey", s.Transcript())
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()
	fetch := fetcherFunc(func(_ context.Context, url string) (domain.Document, error) {
		return domain.Document{ID: "niger", URL: url, Content: niger}, nil
	})

	t.Run("missing credential", func(t *testing.T) {
		t.Parallel()
		_, err := bootstrap.Build(context.Background(), offlineConfig(), "", bootstrap.Options{Fetcher: fetch})
		require.Error(t, err)
	})

	t.Run("unknown embedder", func(t *testing.T) {
		t.Parallel()
		cfg := offlineConfig()
		cfg.Embedder.Type = "word2vec"
		_, err := bootstrap.Build(context.Background(), cfg, "key", bootstrap.Options{Fetcher: fetch})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "word2vec")
	})

	t.Run("openai without key", func(t *testing.T) {
		t.Parallel()
		cfg := offlineConfig()
		cfg.Embedder.Type = "openai"
		cfg.Embedder.OpenAI = &config.OpenAIEmbedderConfig{APIKeyEnv: "RAGCHAT_TEST_UNSET_KEY"}
		_, err := bootstrap.Build(context.Background(), cfg, "key", bootstrap.Options{Fetcher: fetch})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "openai embedder init failed")
	})

	t.Run("bad mode", func(t *testing.T) {
		t.Parallel()
		cfg := offlineConfig()
		cfg.Retriever.Mode = "XOR"
		_, err := bootstrap.Build(context.Background(), cfg, "key", bootstrap.Options{Fetcher: fetch})
		require.Error(t, err)
	})
}
