package downloader

import (
	"context"
	"strings"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/models"
)

// FakeFetcher serves canned audio bytes without touching the network.
type FakeFetcher struct {
	Content string
	Err     error
	Calls   int
}

// Fetch stores the canned content as the submission's audio artifact.
func (f *FakeFetcher) Fetch(_ context.Context, sub *models.Submission, store *artifact.Store) (*Result, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	content := f.Content
	if content == "" {
		content = "fake-audio"
	}
	rel, err := store.PutAudio(sub.ID, "fake.mp3", strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	return &Result{
		Path:            rel,
		Title:           "fake",
		ByteSize:        int64(len(content)),
		DurationSeconds: 1.5,
		SampleRate:      16000,
	}, nil
}
