package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/asr"
	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/downloader"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/llm"
	"github.com/audiorag/audiorag/pkg/models"
	"github.com/audiorag/audiorag/pkg/vectorstore"
)

type stageEnv struct {
	store     *jobstore.Store
	artifacts *artifact.Store
	vectors   *vectorstore.Store
}

func newStageEnv(t *testing.T) *stageEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.IngestConfig{
		DedupWindow: time.Hour, HighWaterMark: 100,
		MaxAttempts: 3, RetryBase: time.Second, RetryCap: time.Minute,
	}
	store, err := jobstore.Open(filepath.Join(dir, "jobstore.db"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	artifacts, err := artifact.NewStore(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)
	vectors, err := vectorstore.Open(filepath.Join(dir, "vectorstore"))
	require.NoError(t, err)

	return &stageEnv{store: store, artifacts: artifacts, vectors: vectors}
}

func (e *stageEnv) newSubmission(t *testing.T) *models.Submission {
	t.Helper()
	sub, err := e.store.InsertSubmission(context.Background(), jobstore.InsertInput{
		SourceKind: models.SourceRemoteURL,
		Source:     "https://example.com/episode",
		UserID:     "u1",
		UseFakeASR: true,
	})
	require.NoError(t, err)
	return sub
}

func TestDownloadExecutor(t *testing.T) {
	env := newStageEnv(t)
	sub := env.newSubmission(t)

	exec := &DownloadExecutor{
		Store:     env.store,
		Artifacts: env.artifacts,
		Remote:    &downloader.FakeFetcher{Content: "audio"},
		Local:     downloader.LocalFileFetcher{},
	}
	assert.Equal(t, models.WorkDownload, exec.Kind())

	upd, err := exec.Execute(context.Background(), "w1", sub)
	require.NoError(t, err)
	assert.NotEmpty(t, upd.AudioPath)

	art, err := env.store.AudioArtifact(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, art.ByteSize)
	assert.InDelta(t, 1.5, art.DurationSeconds, 0.001)
	assert.Equal(t, 16000, art.SampleRate)
}

func TestDownloadExecutorClassifiesFailures(t *testing.T) {
	env := newStageEnv(t)
	sub := env.newSubmission(t)

	t.Run("missing source is permanent", func(t *testing.T) {
		exec := &DownloadExecutor{
			Store: env.store, Artifacts: env.artifacts,
			Remote: &downloader.FakeFetcher{Err: downloader.ErrSourceNotFound},
		}
		_, err := exec.Execute(context.Background(), "w1", sub)
		se := AsStageError(err, ErrKindDownload)
		assert.Equal(t, ErrKindDownload, se.Kind)
		assert.False(t, se.Retriable)
	})

	t.Run("network failure retries", func(t *testing.T) {
		exec := &DownloadExecutor{
			Store: env.store, Artifacts: env.artifacts,
			Remote: &downloader.FakeFetcher{Err: errors.New("connection reset")},
		}
		_, err := exec.Execute(context.Background(), "w1", sub)
		se := AsStageError(err, ErrKindDownload)
		assert.True(t, se.Retriable)
	})
}

func TestTranscribeExecutor(t *testing.T) {
	env := newStageEnv(t)
	sub := env.newSubmission(t)

	rel, err := env.artifacts.Put(artifact.DirAudio, "1.mp3", strings.NewReader("audio"))
	require.NoError(t, err)
	sub.AudioPath = rel

	fake := &asr.FakeTranscriber{}
	exec := &TranscribeExecutor{Artifacts: env.artifacts, Real: nil, Fake: fake}
	assert.Equal(t, models.WorkTranscribe, exec.Kind())

	upd, err := exec.Execute(context.Background(), "w1", sub)
	require.NoError(t, err)
	require.NotEmpty(t, upd.TranscriptPath)
	assert.Equal(t, 1, fake.Calls)

	var tr models.Transcript
	require.NoError(t, env.artifacts.GetJSON(upd.TranscriptPath, &tr))
	assert.Len(t, tr.Segments, 3)
	assert.NotEmpty(t, tr.FullText)
}

func TestTranscribeExecutorGuards(t *testing.T) {
	env := newStageEnv(t)
	sub := env.newSubmission(t)

	exec := &TranscribeExecutor{Artifacts: env.artifacts, Fake: &asr.FakeTranscriber{}}
	_, err := exec.Execute(context.Background(), "w1", sub)
	se := AsStageError(err, ErrKindTranscription)
	assert.False(t, se.Retriable, "missing audio artifact cannot fix itself")
}

func TestChunkExecutor(t *testing.T) {
	env := newStageEnv(t)
	sub := env.newSubmission(t)

	transcript := asr.DefaultFakeTranscript()
	rel, err := env.artifacts.PutJSON(artifact.DirTranscripts, "1.json", transcript)
	require.NoError(t, err)
	sub.TranscriptPath = rel

	exec := &ChunkExecutor{
		Store: env.store, Artifacts: env.artifacts,
		Cfg: &config.ChunkingConfig{Size: 50, Overlap: 10},
	}
	assert.Equal(t, models.WorkChunk, exec.Kind())

	upd, err := exec.Execute(context.Background(), "w1", sub)
	require.NoError(t, err)
	require.NotNil(t, upd.ChunkCount)
	assert.Greater(t, *upd.ChunkCount, 1)
	require.NotEmpty(t, upd.ChunksPath)

	var chunks []models.Chunk
	require.NoError(t, env.artifacts.GetJSON(upd.ChunksPath, &chunks))
	assert.Len(t, chunks, *upd.ChunkCount)
}

func TestChunkExecutorEmptyTranscript(t *testing.T) {
	env := newStageEnv(t)
	sub := env.newSubmission(t)

	rel, err := env.artifacts.PutJSON(artifact.DirTranscripts, "empty.json", &models.Transcript{})
	require.NoError(t, err)
	sub.TranscriptPath = rel

	exec := &ChunkExecutor{
		Store: env.store, Artifacts: env.artifacts,
		Cfg: &config.ChunkingConfig{Size: 300, Overlap: 75},
	}
	upd, err := exec.Execute(context.Background(), "w1", sub)
	require.NoError(t, err, "empty transcript completes, it does not fail")
	require.NotNil(t, upd.ChunkCount)
	assert.Zero(t, *upd.ChunkCount)
	assert.Equal(t, NoContentWarning, upd.Warning)
	assert.Empty(t, upd.ChunksPath)
}

func TestEmbedExecutor(t *testing.T) {
	env := newStageEnv(t)
	sub := env.newSubmission(t)

	chunks := ChunkText(sub.ID, "the quick brown fox jumps over the lazy dog", 10, 2)
	rel, err := env.artifacts.PutJSON(artifact.DirChunks, "1.json", chunks)
	require.NoError(t, err)
	sub.ChunksPath = rel
	sub.ChunkCount = len(chunks)

	embedder := &llm.FakeEmbedder{Dim: 8}
	exec := &EmbedExecutor{
		Store: env.store, Artifacts: env.artifacts,
		Embedder: embedder, Vectors: env.vectors,
		Cfg: &config.EmbeddingConfig{BatchSize: 2},
	}
	assert.Equal(t, models.WorkEmbed, exec.Kind())

	upd, err := exec.Execute(context.Background(), "w1", sub)
	require.NoError(t, err)
	require.NotNil(t, upd.IndexedCount)
	assert.Equal(t, len(chunks), *upd.IndexedCount)
	assert.Equal(t, len(chunks), env.vectors.Count())
	assert.Greater(t, embedder.Calls, 1, "batch size 2 forces multiple embed calls")
}

func TestEmbedExecutorNoContent(t *testing.T) {
	env := newStageEnv(t)
	sub := env.newSubmission(t)
	sub.ChunkCount = 0

	exec := &EmbedExecutor{
		Store: env.store, Artifacts: env.artifacts,
		Embedder: &llm.FakeEmbedder{}, Vectors: env.vectors,
		Cfg: &config.EmbeddingConfig{BatchSize: 32},
	}
	upd, err := exec.Execute(context.Background(), "w1", sub)
	require.NoError(t, err)
	require.NotNil(t, upd.IndexedCount)
	assert.Zero(t, *upd.IndexedCount)
}

func TestEmbedExecutorCancellation(t *testing.T) {
	env := newStageEnv(t)
	sub := env.newSubmission(t)

	chunks := ChunkText(sub.ID, "some text to embed", 5, 1)
	rel, err := env.artifacts.PutJSON(artifact.DirChunks, "1.json", chunks)
	require.NoError(t, err)
	sub.ChunksPath = rel
	sub.ChunkCount = len(chunks)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := &EmbedExecutor{
		Store: env.store, Artifacts: env.artifacts,
		Embedder: &llm.FakeEmbedder{}, Vectors: env.vectors,
		Cfg: &config.EmbeddingConfig{BatchSize: 1},
	}
	_, err = exec.Execute(ctx, "w1", sub)
	se := AsStageError(err, ErrKindEmbedding)
	assert.Equal(t, ErrKindCancelled, se.Kind)
	assert.False(t, se.Retriable)
}

func TestIndexExecutor(t *testing.T) {
	env := newStageEnv(t)
	sub := env.newSubmission(t)
	exec := &IndexExecutor{Vectors: env.vectors}
	assert.Equal(t, models.WorkIndex, exec.Kind())

	t.Run("no-content passes", func(t *testing.T) {
		sub.ChunkCount, sub.IndexedCount = 0, 0
		_, err := exec.Execute(context.Background(), "w1", sub)
		assert.NoError(t, err)
	})

	t.Run("count mismatch fails", func(t *testing.T) {
		sub.ChunkCount, sub.IndexedCount = 4, 2
		_, err := exec.Execute(context.Background(), "w1", sub)
		se := AsStageError(err, ErrKindIndexing)
		assert.Equal(t, ErrKindIndexing, se.Kind)
	})

	t.Run("matching counts pass", func(t *testing.T) {
		chunks := []models.Chunk{{ID: "a", Ordinal: 0, Text: "t"}}
		require.NoError(t, env.vectors.Upsert(context.Background(), sub.ID, chunks, [][]float32{{1, 0}}))
		sub.ChunkCount, sub.IndexedCount = 1, 1
		_, err := exec.Execute(context.Background(), "w1", sub)
		assert.NoError(t, err)
	})
}
