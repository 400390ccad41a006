package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorag/audiorag/pkg/models"
)

func testChunks() ([]models.Chunk, [][]float32) {
	chunks := []models.Chunk{
		{ID: "c0", Ordinal: 0, Text: "retrieval pipelines"},
		{ID: "c1", Ordinal: 1, Text: "audio transcription"},
		{ID: "c2", Ordinal: 2, Text: "vector similarity"},
	}
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	return chunks, vectors
}

func TestUpsertAndQuery(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	chunks, vectors := testChunks()
	require.NoError(t, s.Upsert(ctx, 5, chunks, vectors))
	assert.Equal(t, 3, s.Count())

	hits, err := s.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c0", hits[0].ChunkID)
	assert.EqualValues(t, 5, hits[0].SubmissionID)
	assert.Equal(t, "retrieval pipelines", hits[0].Text)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
}

func TestQueryClampsToCount(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	chunks, vectors := testChunks()
	require.NoError(t, s.Upsert(ctx, 1, chunks, vectors))

	hits, err := s.Query(ctx, []float32{0, 1, 0}, 50)
	require.NoError(t, err)
	assert.Len(t, hits, 3, "requested size beyond the index clamps")
}

func TestQueryEmptyIndex(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	hits, err := s.Query(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpsertIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	chunks, vectors := testChunks()
	require.NoError(t, s.Upsert(ctx, 1, chunks, vectors))
	require.NoError(t, s.Upsert(ctx, 1, chunks, vectors))
	assert.Equal(t, 3, s.Count(), "re-indexing overwrites, never duplicates")
}

func TestUpsertMismatch(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	chunks, _ := testChunks()
	err = s.Upsert(context.Background(), 1, chunks, [][]float32{{1}})
	assert.Error(t, err)
}

func TestDeleteSubmission(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	chunks, vectors := testChunks()
	require.NoError(t, s.Upsert(ctx, 1, chunks, vectors))
	require.NoError(t, s.Upsert(ctx, 2, []models.Chunk{{ID: "x0", Ordinal: 0, Text: "other"}}, [][]float32{{1, 1, 0}}))

	require.NoError(t, s.DeleteSubmission(ctx, 1))
	assert.Equal(t, 1, s.Count())

	hits, err := s.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "x0", hits[0].ChunkID)
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	chunks, vectors := testChunks()
	require.NoError(t, s.Upsert(ctx, 1, chunks, vectors))

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.Count(), "index survives process restart")
}
