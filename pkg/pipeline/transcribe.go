package pipeline

import (
	"context"
	"fmt"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/asr"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/models"
)

// TranscribeExecutor produces a transcript artifact from the stored audio.
// The fake transcriber is selected per submission, so offline test
// submissions and real ones flow through the same pipeline.
type TranscribeExecutor struct {
	Artifacts *artifact.Store
	Real      asr.Transcriber
	Fake      asr.Transcriber
}

// Kind implements StageExecutor.
func (e *TranscribeExecutor) Kind() models.WorkKind { return models.WorkTranscribe }

// Execute transcribes the audio artifact and stores the transcript as JSON.
func (e *TranscribeExecutor) Execute(ctx context.Context, _ string, sub *models.Submission) (jobstore.CompleteUpdate, error) {
	if sub.AudioPath == "" {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindTranscription, false,
			fmt.Errorf("submission %d has no audio artifact", sub.ID))
	}

	transcriber := e.Real
	if sub.UseFakeASR {
		transcriber = e.Fake
	}
	if transcriber == nil {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindTranscription, false,
			fmt.Errorf("no transcriber configured"))
	}

	transcript, err := transcriber.Transcribe(ctx, e.Artifacts.Path(sub.AudioPath), sub.LanguageHint)
	if err != nil {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindTranscription, asr.Retriable(err), err)
	}

	name := fmt.Sprintf("%d.json", sub.ID)
	rel, err := e.Artifacts.PutJSON(artifact.DirTranscripts, name, transcript)
	if err != nil {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindTranscription, true, err)
	}

	return jobstore.CompleteUpdate{TranscriptPath: rel}, nil
}
