// Package downloader resolves submission sources into stored audio
// artifacts. Remote URLs go through yt-dlp, local files are copied in.
package downloader

import (
	"context"
	"errors"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/models"
)

// ErrSourceNotFound marks a source that does not exist or is not
// downloadable. Not retriable: retrying the same source cannot succeed.
var ErrSourceNotFound = errors.New("source not found")

// Result describes the audio artifact produced by a fetch.
type Result struct {
	// Path is the artifact reference relative to the store root.
	Path     string
	Title    string
	ByteSize int64
	// DurationSeconds and SampleRate are zero when the source format does
	// not expose them.
	DurationSeconds float64
	SampleRate      int
}

// Fetcher turns one submission source into a stored audio artifact.
type Fetcher interface {
	Fetch(ctx context.Context, sub *models.Submission, store *artifact.Store) (*Result, error)
}

// ForKind selects the fetcher for a submission's source kind.
func ForKind(kind models.SourceKind, remote, local Fetcher) (Fetcher, error) {
	switch kind {
	case models.SourceRemoteURL:
		return remote, nil
	case models.SourceLocalFile:
		return local, nil
	default:
		return nil, errors.New("unknown source kind: " + string(kind))
	}
}

// Retriable reports whether a fetch failure is worth another attempt.
// Missing sources are permanent; everything else (network, tool crashes,
// timeouts) may clear up.
func Retriable(err error) bool {
	return !errors.Is(err, ErrSourceNotFound)
}
