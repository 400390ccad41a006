package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/models"
)

// LocalFileFetcher copies an already-present audio file into the store.
// Used for files dropped into the watched ingress directory.
type LocalFileFetcher struct{}

// Fetch copies the submission's source path into the artifact store.
func (LocalFileFetcher) Fetch(_ context.Context, sub *models.Submission, store *artifact.Store) (*Result, error) {
	src, err := os.Open(sub.Source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("local file %s: %w", sub.Source, ErrSourceNotFound)
		}
		return nil, fmt.Errorf("opening local file: %w", err)
	}
	defer src.Close()

	base := filepath.Base(sub.Source)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	rel, err := store.PutAudio(sub.ID, base, src)
	if err != nil {
		return nil, err
	}
	size, err := store.Size(rel)
	if err != nil {
		return nil, err
	}
	duration, sampleRate := ProbeAudio(sub.Source)
	return &Result{
		Path:            rel,
		Title:           title,
		ByteSize:        size,
		DurationSeconds: duration,
		SampleRate:      sampleRate,
	}, nil
}
