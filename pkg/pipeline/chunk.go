package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/models"
)

// NoContentWarning marks submissions whose transcript produced no chunks.
// Such submissions still reach the indexed stage, contributing nothing to
// the corpus.
const NoContentWarning = "no-content: transcript produced no chunks"

// ChunkExecutor windows the transcript text into overlapping chunks and
// stores them as one JSON artifact.
type ChunkExecutor struct {
	Store     *jobstore.Store
	Artifacts *artifact.Store
	Cfg       *config.ChunkingConfig
}

// Kind implements StageExecutor.
func (e *ChunkExecutor) Kind() models.WorkKind { return models.WorkChunk }

// Execute chunks the transcript. An empty transcript completes with zero
// chunks and the no-content warning rather than failing.
func (e *ChunkExecutor) Execute(ctx context.Context, workerID string, sub *models.Submission) (jobstore.CompleteUpdate, error) {
	if sub.TranscriptPath == "" {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindChunking, false,
			fmt.Errorf("submission %d has no transcript artifact", sub.ID))
	}

	var transcript models.Transcript
	if err := e.Artifacts.GetJSON(sub.TranscriptPath, &transcript); err != nil {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindChunking, true, err)
	}

	chunks := ChunkText(sub.ID, transcript.FullText, e.Cfg.Size, e.Cfg.Overlap)
	AttachSegmentRanges(chunks, transcript.Segments, e.Cfg.Size, e.Cfg.Overlap)

	count := len(chunks)
	upd := jobstore.CompleteUpdate{ChunkCount: &count}
	if count == 0 {
		slog.Warn("Transcript produced no chunks", "submission_id", sub.ID)
		upd.Warning = NoContentWarning
		return upd, nil
	}

	name := fmt.Sprintf("%d.json", sub.ID)
	rel, err := e.Artifacts.PutJSON(artifact.DirChunks, name, chunks)
	if err != nil {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindChunking, true, err)
	}
	_ = e.Store.SetStageProgress(ctx, sub.ID, workerID, count)

	upd.ChunksPath = rel
	return upd, nil
}
