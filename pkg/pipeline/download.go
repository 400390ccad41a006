package pipeline

import (
	"context"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/downloader"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/models"
)

// DownloadExecutor resolves the submission source into a stored audio file.
type DownloadExecutor struct {
	Store     *jobstore.Store
	Artifacts *artifact.Store
	Remote    downloader.Fetcher
	Local     downloader.Fetcher
}

// Kind implements StageExecutor.
func (e *DownloadExecutor) Kind() models.WorkKind { return models.WorkDownload }

// Execute fetches the audio and records its artifact attributes.
func (e *DownloadExecutor) Execute(ctx context.Context, _ string, sub *models.Submission) (jobstore.CompleteUpdate, error) {
	fetcher, err := downloader.ForKind(sub.SourceKind, e.Remote, e.Local)
	if err != nil {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindDownload, false, err)
	}

	res, err := fetcher.Fetch(ctx, sub, e.Artifacts)
	if err != nil {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindDownload, downloader.Retriable(err), err)
	}

	if err := e.Store.CreateAudioArtifact(ctx, &models.AudioArtifact{
		SubmissionID:    sub.ID,
		Path:            res.Path,
		Title:           res.Title,
		ByteSize:        res.ByteSize,
		DurationSeconds: res.DurationSeconds,
		SampleRate:      res.SampleRate,
		Language:        sub.LanguageHint,
	}); err != nil {
		return jobstore.CompleteUpdate{}, NewStageError(ErrKindDownload, true, err)
	}

	return jobstore.CompleteUpdate{AudioPath: res.Path}, nil
}
