// Package asr turns stored audio into transcripts. The production
// implementation calls the OpenAI transcription API; a fake serves fixed
// segments for development and tests.
package asr

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/audiorag/audiorag/pkg/models"
)

// Retriable reports whether a transcription failure is worth another
// attempt. Rate limits, server errors, and transport failures are; corrupt
// or unreadable audio (4xx bad-input responses) is permanent.
func Retriable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}
	return !errors.Is(err, context.Canceled)
}

// Transcriber converts one audio file into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, languageHint string) (*models.Transcript, error)
}

// JoinSegments flattens segment texts into the transcript's full text.
func JoinSegments(segments []models.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
