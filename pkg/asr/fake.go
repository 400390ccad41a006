package asr

import (
	"context"

	"github.com/audiorag/audiorag/pkg/models"
)

// FakeTranscriber returns a fixed multi-segment transcript without calling
// any speech service. Selected per submission via the use-fake flag, so the
// rest of the pipeline can be exercised offline.
type FakeTranscriber struct {
	Transcript *models.Transcript
	Err        error
	Calls      int
}

// Transcribe returns the canned transcript.
func (f *FakeTranscriber) Transcribe(_ context.Context, _, languageHint string) (*models.Transcript, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Transcript != nil {
		return f.Transcript, nil
	}
	tr := DefaultFakeTranscript()
	if languageHint != "" {
		tr.Language = languageHint
	}
	return tr, nil
}

// DefaultFakeTranscript is the canned output used when none is configured.
func DefaultFakeTranscript() *models.Transcript {
	segments := []models.Segment{
		{Start: 0, End: 4.2, Text: "Welcome to the show, today we talk about retrieval."},
		{Start: 4.2, End: 9.8, Text: "Our guest explains how audio search pipelines are built."},
		{Start: 9.8, End: 15.5, Text: "We close with questions from the audience."},
	}
	return &models.Transcript{
		Language: "en",
		Duration: 15.5,
		Segments: segments,
		FullText: JoinSegments(segments),
	}
}
