// Package pipeline implements the per-stage work of the ingestion pipeline:
// download, transcribe, chunk, embed and index. Each stage is an executor
// the scheduler's workers invoke against a claimed submission.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/models"
)

// Error kinds recorded on failed submissions.
const (
	ErrKindDownload      = "download"
	ErrKindTranscription = "transcription"
	ErrKindChunking      = "chunking"
	ErrKindEmbedding     = "embedding"
	ErrKindIndexing      = "indexing"
	ErrKindCancelled     = "cancelled"
)

// StageError classifies a stage failure for the retry policy.
type StageError struct {
	Kind      string
	Retriable bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps a failure with its stage taxonomy tag.
func NewStageError(kind string, retriable bool, err error) *StageError {
	return &StageError{Kind: kind, Retriable: retriable, Err: err}
}

// AsStageError extracts the stage classification, defaulting to a retriable
// failure of the given kind for unclassified errors.
func AsStageError(err error, defaultKind string) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Kind: defaultKind, Retriable: true, Err: err}
}

// StageExecutor performs one pipeline stage against a claimed submission.
// The returned update carries artifact references for the completion write;
// workerID identifies the claim for intra-stage progress writes.
type StageExecutor interface {
	Kind() models.WorkKind
	Execute(ctx context.Context, workerID string, sub *models.Submission) (jobstore.CompleteUpdate, error)
}
