// Package llm wraps the OpenAI chat and embedding APIs behind narrow
// interfaces so the retrieval and indexing paths can run against fakes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/audiorag/audiorag/pkg/config"
)

// ChatMessage is one turn handed to the chat model.
type ChatMessage struct {
	Role    string
	Content string
}

// Chat roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ChatClient produces a completion for a message sequence.
type ChatClient interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// Embedder encodes texts into vectors. Order and length of the result match
// the input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// apiClient captures the go-openai surface the client uses.
type apiClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Client implements ChatClient and Embedder over the OpenAI API with
// per-call timeouts and bounded exponential retry.
type Client struct {
	api      apiClient
	llmCfg   *config.LLMConfig
	embedCfg *config.EmbeddingConfig
}

// APIKey resolves the model API key, preferring LLM_API_KEY over the
// provider-native OPENAI_API_KEY.
func APIKey() string {
	if k := os.Getenv("LLM_API_KEY"); k != "" {
		return k
	}
	return os.Getenv("OPENAI_API_KEY")
}

// NewClient builds a client from LLM_API_KEY (or OPENAI_API_KEY).
func NewClient(llmCfg *config.LLMConfig, embedCfg *config.EmbeddingConfig) (*Client, error) {
	key := APIKey()
	if key == "" {
		return nil, errors.New("LLM_API_KEY is not set")
	}
	return &Client{api: openai.NewClient(key), llmCfg: llmCfg, embedCfg: embedCfg}, nil
}

// Complete runs one chat completion and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("messages are required")
	}
	req := openai.ChatCompletionRequest{
		Model:       c.llmCfg.Model,
		Temperature: float32(c.llmCfg.Temperature),
		MaxTokens:   c.llmCfg.MaxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	var out string
	err := c.withRetry(ctx, c.llmCfg.Timeout, "chat completion", func(callCtx context.Context) error {
		resp, err := c.api.CreateChatCompletion(callCtx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty completion response")
		}
		out = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return out, nil
}

// Embed encodes the texts with the configured embedding model.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embedCfg.Model),
		Input: texts,
	}

	var vectors [][]float32
	err := c.withRetry(ctx, c.embedCfg.Timeout, "embedding", func(callCtx context.Context) error {
		resp, err := c.api.CreateEmbeddings(callCtx, req)
		if err != nil {
			return err
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(resp.Data))
		}
		vectors = make([][]float32, len(resp.Data))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(vectors) {
				return fmt.Errorf("embedding index %d out of range", d.Index)
			}
			vectors[d.Index] = d.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	return vectors, nil
}

// withRetry runs op under a per-attempt timeout with exponential backoff.
// Context cancellation and API errors that cannot clear up stop the retries.
func (c *Client) withRetry(ctx context.Context, timeout time.Duration, label string, op func(context.Context) error) error {
	maxRetries := c.llmCfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries)),
		ctx,
	)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		err := op(callCtx)
		if err == nil {
			return nil
		}
		if !retriableAPIError(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("LLM call failed, retrying", "op", label, "attempt", attempt, "error", err)
		return err
	}, policy)
}

// retriableAPIError reports whether an OpenAI error may clear on retry.
// Rate limits and server errors do; auth and bad-request errors never do.
func retriableAPIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Transport-level failures (timeouts, resets) are worth retrying.
	return true
}
