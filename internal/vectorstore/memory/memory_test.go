package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
	"ragchat/internal/vectorstore/memory"
)

func chunk(id string) domain.Chunk {
	return domain.Chunk{DocumentID: "d", ChunkID: id, Text: id}
}

func TestStorage_InitRejectsZeroDimension(t *testing.T) {
	t.Parallel()
	require.Error(t, memory.NewStorage().Init(context.Background(), 0))
}

func TestStorage_SearchRanksByCosine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewStorage()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx,
		[]domain.Chunk{chunk("x"), chunk("y"), chunk("xy")},
		[][]float64{{10, 0}, {0, 3}, {1, 1}},
	))

	res, err := s.Search(ctx, []float64{2, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "x", res[0].Chunk.ChunkID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-9)
	assert.Equal(t, "xy", res[1].Chunk.ChunkID)
	assert.InDelta(t, 0.7071, res[1].Score, 1e-4)
}

func TestStorage_UpsertReplacesByChunkID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewStorage()
	require.NoError(t, s.Init(ctx, 1))
	require.NoError(t, s.Upsert(ctx, []domain.Chunk{chunk("a")}, [][]float64{{1}}))
	require.NoError(t, s.Upsert(ctx, []domain.Chunk{chunk("a")}, [][]float64{{2}}))
	assert.Equal(t, 1, s.Len())
}

func TestStorage_Mismatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewStorage()
	require.NoError(t, s.Init(ctx, 2))
	require.Error(t, s.Upsert(ctx, []domain.Chunk{chunk("a")}, nil))
	require.Error(t, s.Upsert(ctx, []domain.Chunk{chunk("a")}, [][]float64{{1}}))
}

func TestStorage_Clear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewStorage()
	require.NoError(t, s.Init(ctx, 1))
	require.NoError(t, s.Upsert(ctx, []domain.Chunk{chunk("a")}, [][]float64{{1}}))
	require.NoError(t, s.Clear(ctx))
	res, err := s.Search(ctx, []float64{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}
