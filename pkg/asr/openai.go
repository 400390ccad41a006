package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/llm"
	"github.com/audiorag/audiorag/pkg/models"
)

// transcriptionAPI captures the go-openai surface used here.
type transcriptionAPI interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// noSpeechThreshold is the no_speech_prob above which a segment is treated
// as silence when VAD filtering is on.
const noSpeechThreshold = 0.6

// OpenAITranscriber transcribes audio through the OpenAI audio API.
type OpenAITranscriber struct {
	api transcriptionAPI
	cfg *config.ASRConfig
}

// NewOpenAITranscriber builds a transcriber from LLM_API_KEY (or
// OPENAI_API_KEY).
func NewOpenAITranscriber(cfg *config.ASRConfig) (*OpenAITranscriber, error) {
	key := llm.APIKey()
	if key == "" {
		return nil, errors.New("LLM_API_KEY is not set")
	}
	return &OpenAITranscriber{api: openai.NewClient(key), cfg: cfg}, nil
}

// Transcribe sends the audio file for transcription and maps the timed
// segments into the transcript schema.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audioPath, languageHint string) (*models.Transcript, error) {
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	req := openai.AudioRequest{
		Model:    t.cfg.Model,
		FilePath: audioPath,
		Language: languageHint,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}

	start := time.Now()
	resp, err := t.api.CreateTranscription(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("transcription: %w", err)
	}

	out := &models.Transcript{
		Language: resp.Language,
		Duration: resp.Duration,
	}
	for _, seg := range resp.Segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		if t.cfg.UseVAD && seg.NoSpeechProb > noSpeechThreshold {
			continue
		}
		out.Segments = append(out.Segments, models.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}
	// Some responses carry only the flat text.
	if len(out.Segments) == 0 && resp.Text != "" {
		out.Segments = []models.Segment{{Start: 0, End: resp.Duration, Text: resp.Text}}
	}
	out.FullText = JoinSegments(out.Segments)

	slog.Info("Audio transcribed",
		"path", audioPath,
		"language", out.Language,
		"segments", len(out.Segments),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return out, nil
}
