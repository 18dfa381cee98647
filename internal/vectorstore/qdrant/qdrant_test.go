package qdrant_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
	"ragchat/internal/vectorstore/qdrant"
)

type recorded struct {
	method string
	path   string
	apiKey string
	body   map[string]any
}

func newServer(t *testing.T, reply string) (*httptest.Server, func() []recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, apiKey: r.Header.Get("api-key")}
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
		mu.Lock()
		calls = append(calls, rec)
		mu.Unlock()
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), calls...)
	}
}

func TestPointID_IsStableUUID(t *testing.T) {
	t.Parallel()
	id := qdrant.PointID("doc:0")
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, qdrant.PointID("doc:0"))
	assert.NotEqual(t, id, qdrant.PointID("doc:1"))
}

func TestStorage_InitAndUpsert(t *testing.T) {
	t.Parallel()
	srv, calls := newServer(t, `{"result":true}`)
	s := qdrant.NewStorage(qdrant.Config{URL: srv.URL, APIKey: "k", Collection: "niger"})
	ctx := context.Background()

	require.Error(t, s.Init(ctx, 0))
	require.NoError(t, s.Init(ctx, 3))
	require.NoError(t, s.Upsert(ctx,
		[]domain.Chunk{{DocumentID: "d", ChunkID: "d:0", Text: "Niamey", Index: 0}},
		[][]float64{{1, 0, 0}},
	))

	got := calls()
	require.Len(t, got, 2)
	assert.Equal(t, http.MethodPut, got[0].method)
	assert.Equal(t, "/collections/niger", got[0].path)
	assert.Equal(t, "k", got[0].apiKey)
	assert.Equal(t, "/collections/niger/points", got[1].path)
	points := got[1].body["points"].([]any)
	require.Len(t, points, 1)
	assert.Equal(t, qdrant.PointID("d:0"), points[0].(map[string]any)["id"])
}

func TestStorage_Search(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, `{"result":[{"score":0.9,"payload":{"document_id":"d","chunk_id":"d:2","index":2,"text":"Niamey"}}]}`)
	s := qdrant.NewStorage(qdrant.Config{URL: srv.URL, Collection: "niger"})

	res, err := s.Search(context.Background(), []float64{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, domain.Chunk{DocumentID: "d", ChunkID: "d:2", Text: "Niamey", Index: 2}, res[0].Chunk)
	assert.InDelta(t, 0.9, res[0].Score, 1e-9)
}

func TestStorage_ErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	s := qdrant.NewStorage(qdrant.Config{URL: srv.URL, Collection: "niger"})

	_, err := s.Search(context.Background(), []float64{1}, 1)
	require.Error(t, err)
	// Dropping a missing collection is fine.
	require.NoError(t, s.Clear(context.Background()))
}
