package gemini_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/gemini"
)

func TestNew_MissingKey(t *testing.T) {
	t.Parallel()
	_, err := gemini.New(context.Background(), "")
	require.Error(t, err)
}

func TestClient_Generate(t *testing.T) {
	t.Parallel()
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Niamey"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	c, err := gemini.New(context.Background(), "key", gemini.WithBaseURL(srv.URL), gemini.WithModel("gemini-test"))
	require.NoError(t, err)
	assert.Equal(t, "gemini-test", c.Model())

	out, err := c.Generate(context.Background(), "You are an AI Assistant.", "What is the capital?")
	require.NoError(t, err)
	assert.Equal(t, "Niamey", out)
	assert.True(t, strings.HasSuffix(gotPath, "gemini-test:generateContent"), gotPath)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(gotBody), &body))
	assert.Contains(t, gotBody, "What is the capital?")
	assert.Contains(t, gotBody, "You are an AI Assistant.")
}

func TestClient_GenerateEmptyCandidate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c, err := gemini.New(context.Background(), "key", gemini.WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "", "q")
	require.ErrorIs(t, err, gemini.ErrEmptyResponse)
}

func TestClient_GenerateServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}))
	defer srv.Close()

	c, err := gemini.New(context.Background(), "key", gemini.WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "", "q")
	require.Error(t, err)
}

func TestEmbedder_Embed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Both the single and batch response shapes, whichever the SDK asks for.
		_, _ = w.Write([]byte(`{"embedding":{"values":[0.5,0.25]},"embeddings":[{"values":[0.5,0.25]}]}`))
	}))
	defer srv.Close()

	c, err := gemini.New(context.Background(), "key", gemini.WithBaseURL(srv.URL))
	require.NoError(t, err)
	e := c.Embedder("")
	assert.Equal(t, "gemini", e.Name())
	assert.Zero(t, e.Dimension())

	v, err := e.Embed(context.Background(), "Niger")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.25}, v)
	assert.Equal(t, 2, e.Dimension())
}
