package pipeline

import (
	"context"
	"fmt"

	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/models"
	"github.com/audiorag/audiorag/pkg/vectorstore"
)

// IndexExecutor verifies the submission's vectors are queryable and issues
// the terminal indexed transition. Embedding already wrote the vectors;
// this stage is the durable acknowledgement that they landed.
type IndexExecutor struct {
	Vectors *vectorstore.Store
}

// Kind implements StageExecutor.
func (e *IndexExecutor) Kind() models.WorkKind { return models.WorkIndex }

// Execute confirms the indexed chunk count matches what embedding wrote.
func (e *IndexExecutor) Execute(ctx context.Context, _ string, sub *models.Submission) (jobstore.CompleteUpdate, error) {
	if sub.ChunkCount == 0 {
		return jobstore.CompleteUpdate{}, nil
	}
	if err := ctx.Err(); err != nil {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindCancelled, false, err)
	}
	if sub.IndexedCount != sub.ChunkCount {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindIndexing, true,
			fmt.Errorf("submission %d indexed %d of %d chunks", sub.ID, sub.IndexedCount, sub.ChunkCount))
	}
	if e.Vectors.Count() == 0 {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindIndexing, true,
			fmt.Errorf("vector store is empty after embedding submission %d", sub.ID))
	}
	return jobstore.CompleteUpdate{}, nil
}
