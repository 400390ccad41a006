package pipeline

import (
	"context"
	"fmt"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/llm"
	"github.com/audiorag/audiorag/pkg/models"
	"github.com/audiorag/audiorag/pkg/vectorstore"
)

// EmbedExecutor encodes chunk texts in batches and writes them into the
// vector store. Writing vectors here rather than in a separate indexing
// stage keeps the batch in memory exactly once; the index stage that
// follows is the durable acknowledgement.
type EmbedExecutor struct {
	Store     *jobstore.Store
	Artifacts *artifact.Store
	Embedder  llm.Embedder
	Vectors   *vectorstore.Store
	Cfg       *config.EmbeddingConfig
}

// Kind implements StageExecutor.
func (e *EmbedExecutor) Kind() models.WorkKind { return models.WorkEmbed }

// Execute embeds and upserts all chunks of the submission.
func (e *EmbedExecutor) Execute(ctx context.Context, workerID string, sub *models.Submission) (jobstore.CompleteUpdate, error) {
	if sub.ChunkCount == 0 {
		// No-content submissions skip straight through.
		zero := 0
		return jobstore.CompleteUpdate{IndexedCount: &zero}, nil
	}
	if sub.ChunksPath == "" {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindEmbedding, false,
			fmt.Errorf("submission %d has no chunk artifact", sub.ID))
	}

	var chunks []models.Chunk
	if err := e.Artifacts.GetJSON(sub.ChunksPath, &chunks); err != nil {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindEmbedding, true, err)
	}

	batchSize := e.Cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	done := 0
	for start := 0; start < len(chunks); start += batchSize {
		if err := ctx.Err(); err != nil {
			return jobstore.CompleteUpdate{}, NewStageError(ErrKindCancelled, false, err)
		}
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := e.Embedder.Embed(ctx, texts)
		if err != nil {
			return jobstore.CompleteUpdate{}, NewStageError(ErrKindEmbedding, true, err)
		}
		if err := e.Vectors.Upsert(ctx, sub.ID, batch, vectors); err != nil {
			return jobstore.CompleteUpdate{}, NewStageError(ErrKindIndexing, true, err)
		}

		done += len(batch)
		_ = e.Store.SetStageProgress(ctx, sub.ID, workerID, done)
	}

	return jobstore.CompleteUpdate{IndexedCount: &done}, nil
}
