package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/llm"
	"github.com/audiorag/audiorag/pkg/models"
	"github.com/audiorag/audiorag/pkg/retrieval"
	"github.com/audiorag/audiorag/pkg/scheduler"
	"github.com/audiorag/audiorag/pkg/vectorstore"
)

type apiEnv struct {
	store    *jobstore.Store
	vectors  *vectorstore.Store
	embedder *llm.FakeEmbedder
	chat     *llm.FakeChat
	router   *gin.Engine
	srv      *Server
}

type stubPool struct {
	healthy bool
}

func (p *stubPool) Health(context.Context) *scheduler.PoolHealth {
	return &scheduler.PoolHealth{IsHealthy: p.healthy, DBReachable: p.healthy}
}

func newAPIEnv(t *testing.T, highWaterMark int) *apiEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := jobstore.Open(filepath.Join(dir, "jobstore.db"), &config.IngestConfig{
		DedupWindow:   24 * time.Hour,
		HighWaterMark: highWaterMark,
		MaxAttempts:   3,
		RetryBase:     time.Second,
		RetryCap:      time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	artifacts, err := artifact.NewStore(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)
	vectors, err := vectorstore.Open(filepath.Join(dir, "vectors"))
	require.NoError(t, err)

	embedder := &llm.FakeEmbedder{Dim: 8}
	chat := &llm.FakeChat{Responses: []string{"the answer"}}
	engine := retrieval.NewEngine(store, artifacts, vectors, embedder, chat, &config.RetrievalConfig{
		Variant:        string(models.VariantHybrid),
		TopK:           3,
		SemanticWeight: 0.7,
		LexicalWeight:  0.3,
		RerankPoolSize: 10,
		RRFK:           60,
	})

	srv := NewServer(store, artifacts, engine, &stubPool{healthy: true}, vectors, &config.HTTPConfig{Port: "0"})
	env := &apiEnv{
		store:    store,
		vectors:  vectors,
		embedder: embedder,
		chat:     chat,
		router:   srv.Router(),
		srv:      srv,
	}

	// Seed one indexed submission so query endpoints have a corpus.
	ctx := context.Background()
	sub, err := store.InsertSubmission(ctx, jobstore.InsertInput{
		SourceKind: models.SourceRemoteURL, Source: "https://example.com/seed", UserID: "seed",
	})
	require.NoError(t, err)
	chunks := []models.Chunk{{ID: "seed-0", Ordinal: 0, Text: "the quick brown fox jumps over the lazy dog"}}
	rel, err := artifacts.PutJSON(artifact.DirChunks, fmt.Sprintf("%d.json", sub.ID), chunks)
	require.NoError(t, err)
	vecs, err := embedder.Embed(ctx, []string{chunks[0].Text})
	require.NoError(t, err)
	require.NoError(t, vectors.Upsert(ctx, sub.ID, chunks, vecs))

	count := 1
	updates := map[models.WorkKind]jobstore.CompleteUpdate{
		models.WorkDownload:   {AudioPath: "audio/seed.mp3"},
		models.WorkTranscribe: {TranscriptPath: "transcripts/seed.json"},
		models.WorkChunk:      {ChunksPath: rel, ChunkCount: &count},
		models.WorkEmbed:      {IndexedCount: &count},
		models.WorkIndex:      {},
	}
	for _, kind := range models.AllWorkKinds {
		_, err := store.Claim(ctx, "seed", kind)
		require.NoError(t, err)
		require.NoError(t, store.Complete(ctx, sub.ID, "seed", kind, updates[kind]))
	}
	return env
}

func (env *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestProcessAcceptsURLs(t *testing.T) {
	env := newAPIEnv(t, 100)

	w := env.do(t, http.MethodPost, "/process", gin.H{
		"urls": []string{"https://example.com/a", "https://example.com/b"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp ProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.SubmissionIDs, 2)
	assert.Empty(t, resp.Duplicates)

	// Re-submitting the same URLs reports them as duplicates.
	w = env.do(t, http.MethodPost, "/process", gin.H{
		"urls": []string{"https://example.com/a"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.SubmissionIDs)
	assert.Equal(t, []string{"https://example.com/a"}, resp.Duplicates)
}

func TestProcessBackpressure(t *testing.T) {
	env := newAPIEnv(t, 2)

	w := env.do(t, http.MethodPost, "/process", gin.H{
		"urls": []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"},
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestProcessValidation(t *testing.T) {
	env := newAPIEnv(t, 100)

	w := env.do(t, http.MethodPost, "/process", gin.H{"urls": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryEndpoint(t *testing.T) {
	env := newAPIEnv(t, 100)

	w := env.do(t, http.MethodPost, "/query", gin.H{
		"question": "the quick brown fox jumps over the lazy dog",
		"top_k":    2,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "the answer", resp.Answer)
	require.NotEmpty(t, resp.Sources)
	assert.Equal(t, "seed-0", resp.Sources[0].ChunkID)
	assert.Equal(t, string(models.VariantHybrid), resp.Variant)
	assert.False(t, resp.NoCorpus)
}

func TestQueryUnknownVariant(t *testing.T) {
	env := newAPIEnv(t, 100)

	w := env.do(t, http.MethodPost, "/query", gin.H{
		"question": "anything",
		"variant":  "psychic",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryNoCorpus(t *testing.T) {
	env := newAPIEnv(t, 100)
	require.NoError(t, env.vectors.DeleteSubmission(context.Background(), 1))

	w := env.do(t, http.MethodPost, "/query", gin.H{"question": "anything"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.NoCorpus)
	assert.Equal(t, retrieval.NoCorpusAnswer, resp.Answer)
}

func TestStatusEndpoint(t *testing.T) {
	env := newAPIEnv(t, 100)

	w := env.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "analytics")
	assert.Contains(t, resp, "storage_bytes")
	assert.Contains(t, resp, "collection_size")
	assert.Contains(t, resp, "pool")
}

func TestHealthEndpoint(t *testing.T) {
	env := newAPIEnv(t, 100)

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)

	env.srv.pool = &stubPool{healthy: false}
	w = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestProgressEndpoint(t *testing.T) {
	env := newAPIEnv(t, 100)

	w := env.do(t, http.MethodGet, "/submissions/1/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var progress models.Progress
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &progress))
	assert.Equal(t, models.StageIndexed, progress.Stage)
	assert.Equal(t, 100, progress.Percent)

	w = env.do(t, http.MethodGet, "/submissions/999/progress", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/submissions/abc/progress", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelEndpoint(t *testing.T) {
	env := newAPIEnv(t, 100)

	sub, err := env.store.InsertSubmission(context.Background(), jobstore.InsertInput{
		SourceKind: models.SourceRemoteURL, Source: "https://example.com/x", UserID: "u",
	})
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, fmt.Sprintf("/submissions/%d/cancel", sub.ID), nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	// The seeded submission is terminal.
	w = env.do(t, http.MethodPost, "/submissions/1/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/submissions/999/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFeedbackEndpoint(t *testing.T) {
	env := newAPIEnv(t, 100)

	w := env.do(t, http.MethodPost, "/query", gin.H{"question": "the quick brown fox"})
	require.Equal(t, http.StatusOK, w.Code)

	events, err := env.store.RecentQueryEvents(context.Background(), "api", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)

	w = env.do(t, http.MethodPost, "/feedback", gin.H{
		"query_event_id": events[0].ID,
		"rating":         "positive",
		"comment":        "spot on",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/feedback", gin.H{
		"query_event_id": events[0].ID,
		"rating":         "meh",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/feedback", gin.H{
		"query_event_id": 9999,
		"rating":         "negative",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
