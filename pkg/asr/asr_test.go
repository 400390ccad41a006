package asr

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	openai "github.com/sashabaranov/go-openai"

	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/models"
)

type cannedAPI struct {
	resp openai.AudioResponse
	err  error
	req  openai.AudioRequest
}

func (c *cannedAPI) CreateTranscription(_ context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	c.req = req
	return c.resp, c.err
}

func TestOpenAITranscriber(t *testing.T) {
	api := &cannedAPI{}
	raw := `{
		"language": "ru",
		"duration": 12.5,
		"segments": [
			{"start": 0, "end": 6, "text": " privet"},
			{"start": 6, "end": 12.5, "text": " poka"}
		]
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &api.resp))

	tr := &OpenAITranscriber{api: api, cfg: &config.ASRConfig{Model: "whisper-1", Timeout: time.Second}}
	got, err := tr.Transcribe(context.Background(), "/data/audio/1.mp3", "ru")
	require.NoError(t, err)

	assert.Equal(t, "ru", got.Language)
	assert.InDelta(t, 12.5, got.Duration, 0.001)
	require.Len(t, got.Segments, 2)
	assert.Equal(t, " privet", got.Segments[0].Text)
	assert.Equal(t, "privet poka", got.FullText)

	assert.Equal(t, "whisper-1", api.req.Model)
	assert.Equal(t, "ru", api.req.Language)
	assert.Equal(t, openai.AudioResponseFormatVerboseJSON, api.req.Format)
}

func TestOpenAITranscriberVADFiltersSilence(t *testing.T) {
	api := &cannedAPI{}
	raw := `{
		"language": "en",
		"duration": 9,
		"segments": [
			{"start": 0, "end": 3, "text": " speech", "no_speech_prob": 0.1},
			{"start": 3, "end": 6, "text": " [hum]", "no_speech_prob": 0.93},
			{"start": 6, "end": 9, "text": "   "}
		]
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &api.resp))

	tr := &OpenAITranscriber{api: api, cfg: &config.ASRConfig{Model: "whisper-1", UseVAD: true}}
	got, err := tr.Transcribe(context.Background(), "/data/audio/3.mp3", "")
	require.NoError(t, err)
	require.Len(t, got.Segments, 1)
	assert.Equal(t, " speech", got.Segments[0].Text)

	t.Run("vad off keeps noisy segment", func(t *testing.T) {
		tr := &OpenAITranscriber{api: api, cfg: &config.ASRConfig{Model: "whisper-1"}}
		got, err := tr.Transcribe(context.Background(), "/data/audio/3.mp3", "")
		require.NoError(t, err)
		assert.Len(t, got.Segments, 2, "only the whitespace segment drops")
	})
}

func TestOpenAITranscriberFlatText(t *testing.T) {
	api := &cannedAPI{resp: openai.AudioResponse{
		Language: "en",
		Duration: 3,
		Text:     "just text",
	}}
	tr := &OpenAITranscriber{api: api, cfg: &config.ASRConfig{Model: "whisper-1"}}

	got, err := tr.Transcribe(context.Background(), "/data/audio/2.mp3", "")
	require.NoError(t, err)
	require.Len(t, got.Segments, 1)
	assert.Equal(t, "just text", got.Segments[0].Text)
	assert.InDelta(t, 3, got.Segments[0].End, 0.001)
}

func TestFakeTranscriber(t *testing.T) {
	f := &FakeTranscriber{}
	got, err := f.Transcribe(context.Background(), "anything", "de")
	require.NoError(t, err)
	assert.Equal(t, "de", got.Language)
	assert.Len(t, got.Segments, 3)
	assert.NotEmpty(t, got.FullText)
	assert.Equal(t, 1, f.Calls)
}

func TestRetriable(t *testing.T) {
	assert.False(t, Retriable(&openai.APIError{HTTPStatusCode: 400}), "corrupt audio never retries")
	assert.False(t, Retriable(&openai.APIError{HTTPStatusCode: 415}))
	assert.True(t, Retriable(&openai.APIError{HTTPStatusCode: 429}))
	assert.True(t, Retriable(&openai.APIError{HTTPStatusCode: 503}))
	assert.True(t, Retriable(context.DeadlineExceeded), "transport timeouts retry")
	assert.False(t, Retriable(context.Canceled))
}

func TestJoinSegments(t *testing.T) {
	assert.Equal(t, "a b", JoinSegments([]models.Segment{
		{Text: " a "}, {Text: ""}, {Text: "b"},
	}))
	assert.Equal(t, "", JoinSegments(nil))
}
