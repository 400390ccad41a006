package downloader

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/models"
)

// YTDLPFetcher shells out to yt-dlp to extract audio from a remote URL.
type YTDLPFetcher struct {
	// Binary overrides the yt-dlp executable name, for tests.
	Binary  string
	Timeout time.Duration
}

// NewYTDLPFetcher returns a fetcher with the given per-fetch timeout.
func NewYTDLPFetcher(timeout time.Duration) *YTDLPFetcher {
	return &YTDLPFetcher{Binary: "yt-dlp", Timeout: timeout}
}

// Fetch downloads the submission's URL as mp3 into a scratch directory and
// publishes it into the artifact store.
func (f *YTDLPFetcher) Fetch(ctx context.Context, sub *models.Submission, store *artifact.Store) (*Result, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	scratch, err := os.MkdirTemp("", "audiorag-dl-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	// The after_move prints emit, in order, the final audio path, the
	// duration in seconds, and the sample rate (yt-dlp's asr field).
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--quiet",
		"-x", "--audio-format", "mp3",
		"-o", filepath.Join(scratch, "%(title).180B.%(ext)s"),
		"--no-simulate",
		"--print", "after_move:filepath",
		"--print", "after_move:duration",
		"--print", "after_move:asr",
		sub.Source,
	}
	cmd := exec.CommandContext(ctx, f.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if isPermanentYTDLPError(msg) {
			return nil, fmt.Errorf("yt-dlp: %s: %w", firstLine(msg), ErrSourceNotFound)
		}
		return nil, fmt.Errorf("yt-dlp failed: %s: %w", firstLine(msg), err)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	produced := strings.TrimSpace(lines[0])
	if produced == "" {
		return nil, fmt.Errorf("yt-dlp produced no output file for %s", sub.Source)
	}
	duration, sampleRate := parseYTDLPMetadata(lines)

	src, err := os.Open(produced)
	if err != nil {
		return nil, fmt.Errorf("opening downloaded audio: %w", err)
	}
	defer src.Close()

	title := strings.TrimSuffix(filepath.Base(produced), filepath.Ext(produced))
	rel, err := store.PutAudio(sub.ID, filepath.Base(produced), src)
	if err != nil {
		return nil, err
	}
	size, err := store.Size(rel)
	if err != nil {
		return nil, err
	}

	slog.Info("Audio downloaded",
		"submission_id", sub.ID,
		"title", title,
		"bytes", size,
		"duration_s", duration,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return &Result{
		Path:            rel,
		Title:           title,
		ByteSize:        size,
		DurationSeconds: duration,
		SampleRate:      sampleRate,
	}, nil
}

// parseYTDLPMetadata reads the duration and asr lines printed after the
// file path. yt-dlp prints NA for fields it could not determine.
func parseYTDLPMetadata(lines []string) (float64, int) {
	var duration float64
	var sampleRate int
	if len(lines) > 1 {
		if v, err := strconv.ParseFloat(strings.TrimSpace(lines[1]), 64); err == nil {
			duration = v
		}
	}
	if len(lines) > 2 {
		if v, err := strconv.Atoi(strings.TrimSpace(lines[2])); err == nil {
			sampleRate = v
		}
	}
	return duration, sampleRate
}

// isPermanentYTDLPError recognizes failures that no retry can fix.
func isPermanentYTDLPError(stderr string) bool {
	for _, marker := range []string{
		"Video unavailable",
		"Private video",
		"HTTP Error 404",
		"HTTP Error 410",
		"Unsupported URL",
		"is not a valid URL",
	} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
