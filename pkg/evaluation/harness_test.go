package evaluation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/llm"
	"github.com/audiorag/audiorag/pkg/models"
	"github.com/audiorag/audiorag/pkg/retrieval"
	"github.com/audiorag/audiorag/pkg/vectorstore"
)

type harnessEnv struct {
	store   *jobstore.Store
	harness *Harness
	chat    *llm.FakeChat
	judge   *llm.FakeChat
	chunks  []models.Chunk
}

// newHarnessEnv seeds a small indexed corpus and wires the harness over
// fixed-output model fakes.
func newHarnessEnv(t *testing.T, texts []string) *harnessEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := jobstore.Open(filepath.Join(dir, "jobstore.db"), &config.IngestConfig{
		DedupWindow:   24 * time.Hour,
		HighWaterMark: 100,
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

	ctx := context.Background()
	sub, err := store.InsertSubmission(ctx, jobstore.InsertInput{
		SourceKind: models.SourceRemoteURL, Source: "https://example.com/a", UserID: "eval",
	})
	require.NoError(t, err)

	embedder := &llm.FakeEmbedder{Dim: 8}
	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{ID: fmt.Sprintf("c%d", i), Ordinal: i, Text: text}
	}
	rel, err := artifacts.PutJSON(artifact.DirChunks, fmt.Sprintf("%d.json", sub.ID), chunks)
	require.NoError(t, err)
	vecs, err := embedder.Embed(ctx, texts)
	require.NoError(t, err)
	require.NoError(t, vectors.Upsert(ctx, sub.ID, chunks, vecs))

	count := len(chunks)
	updates := map[models.WorkKind]jobstore.CompleteUpdate{
		models.WorkDownload:   {AudioPath: "audio/a.mp3"},
		models.WorkTranscribe: {TranscriptPath: "transcripts/t.json"},
		models.WorkChunk:      {ChunksPath: rel, ChunkCount: &count},
		models.WorkEmbed:      {IndexedCount: &count},
		models.WorkIndex:      {},
	}
	for _, kind := range models.AllWorkKinds {
		_, err := store.Claim(ctx, "seed", kind)
		require.NoError(t, err)
		require.NoError(t, store.Complete(ctx, sub.ID, "seed", kind, updates[kind]))
	}

	chat := &llm.FakeChat{Responses: []string{"a generated answer"}}
	engine := retrieval.NewEngine(store, artifacts, vectors, embedder, chat, &config.RetrievalConfig{
		TopK:           3,
		SemanticWeight: 0.7,
		LexicalWeight:  0.3,
		RerankPoolSize: 10,
		RewriteCount:   2,
		RRFK:           60,
	})

	judge := &llm.FakeChat{Responses: []string{"8"}}
	h := NewHarness(engine, embedder, judge, 3, filepath.Join(dir, "logs"))
	return &harnessEnv{store: store, harness: h, chat: chat, judge: judge, chunks: chunks}
}

func evalDataset(texts []string) *Dataset {
	ds := &Dataset{}
	for i, text := range texts {
		ds.Cases = append(ds.Cases, Case{
			ID:               fmt.Sprintf("case-%d", i+1),
			Query:            text,
			ExpectedAnswer:   "a generated answer",
			ExpectedChunkIDs: []string{fmt.Sprintf("c%d", i)},
		})
	}
	return ds
}

func TestHarnessProducesRankedReport(t *testing.T) {
	texts := []string{
		"the quick brown fox jumps over the lazy dog",
		"database indexing strategies for analytical workloads",
		"weather patterns across the northern hemisphere",
		"open source licensing and its obligations",
		"container orchestration and rolling deployments",
	}
	env := newHarnessEnv(t, texts)
	ds := evalDataset(texts)
	variants := []models.Variant{models.VariantSemantic, models.VariantHybrid, models.VariantHybridRerank}

	report, err := env.harness.Run(context.Background(), ds, variants)
	require.NoError(t, err)

	require.Len(t, report.Variants, 3)
	require.Len(t, report.Ranking, 3)
	assert.Equal(t, 5, report.CaseCount)
	assert.Equal(t, 3, report.TopK)

	for _, vr := range report.Variants {
		assert.Len(t, vr.Cases, 5)
		// Each query is a verbatim chunk text, so every variant finds its
		// expected chunk with the deterministic embedder.
		assert.Equal(t, 1.0, vr.HitRate, "variant %s", vr.Variant)
		assert.Greater(t, vr.MRR, 0.0)
		assert.InDelta(t, 8.0, vr.JudgeScore, 1e-9)
		// Generated and expected answers are identical strings.
		assert.InDelta(t, 1.0, vr.AnswerSimilarity, 1e-6)
	}
}

func TestHarnessRankingStableAcrossRuns(t *testing.T) {
	texts := []string{
		"alpha bravo charlie",
		"delta echo foxtrot",
		"golf hotel india",
	}
	env := newHarnessEnv(t, texts)
	ds := evalDataset(texts)
	variants := []models.Variant{models.VariantSemantic, models.VariantHybrid, models.VariantHybridRerank}

	first, err := env.harness.Run(context.Background(), ds, variants)
	require.NoError(t, err)
	second, err := env.harness.Run(context.Background(), ds, variants)
	require.NoError(t, err)

	assert.Equal(t, first.Ranking, second.Ranking)
	for i := range first.Variants {
		assert.Equal(t, first.Variants[i].Composite, second.Variants[i].Composite)
	}
}

func TestHarnessRecordsRawOutputs(t *testing.T) {
	texts := []string{"alpha bravo charlie"}
	env := newHarnessEnv(t, texts)
	env.judge.Responses = []string{"definitely a nine"}

	report, err := env.harness.Run(context.Background(), evalDataset(texts), []models.Variant{models.VariantHybrid})
	require.NoError(t, err)

	cr := report.Variants[0].Cases[0]
	assert.Equal(t, "a generated answer", cr.Answer)
	assert.Equal(t, "definitely a nine", cr.JudgeRaw)
	assert.Equal(t, 0.0, cr.JudgeScore)
}

func TestWriteReport(t *testing.T) {
	texts := []string{"alpha bravo charlie"}
	env := newHarnessEnv(t, texts)

	report, err := env.harness.Run(context.Background(), evalDataset(texts), []models.Variant{models.VariantHybrid})
	require.NoError(t, err)

	path, err := env.harness.WriteReport(report)
	require.NoError(t, err)
	assert.Regexp(t, `eval_\d{8}T\d{6}Z\.json$`, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ranking"`)
	assert.Contains(t, string(data), `"hit_rate"`)
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eval.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cases":[{"query":"q1","expected_chunk_ids":["a"]}]}`), 0o644))

	ds, err := LoadDataset(path)
	require.NoError(t, err)
	require.Len(t, ds.Cases, 1)
	assert.Equal(t, "case-1", ds.Cases[0].ID)

	require.NoError(t, os.WriteFile(path, []byte(`{"cases":[]}`), 0o644))
	_, err = LoadDataset(path)
	assert.Error(t, err)
}

func TestMetrics(t *testing.T) {
	assert.True(t, hitAtK([]string{"a", "b"}, []string{"b"}))
	assert.False(t, hitAtK([]string{"a", "b"}, []string{"c"}))

	assert.Equal(t, 1.0, reciprocalRank([]string{"x", "y"}, []string{"x"}))
	assert.Equal(t, 0.5, reciprocalRank([]string{"x", "y"}, []string{"y"}))
	assert.Equal(t, 0.0, reciprocalRank([]string{"x"}, []string{"z"}))

	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity(nil, nil))
}

func TestParseJudgeScore(t *testing.T) {
	for raw, want := range map[string]float64{"7": 7, "9.5": 9.5, "8/10": 8, "15": 10, "-2": 0} {
		got, err := parseJudgeScore(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := parseJudgeScore("no score here")
	assert.Error(t, err)
}
