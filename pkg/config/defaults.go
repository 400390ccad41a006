package config

import "time"

// DefaultSystemPrompt instructs the answer model to stay grounded in the
// retrieved context.
const DefaultSystemPrompt = "Answer only from the provided context. " +
	"If the context does not contain the answer, say you do not know."

// defaultConfig returns the complete built-in configuration.
// User YAML values override these via the loader merge.
func defaultConfig() *Config {
	return &Config{
		DataRoot: "data",
		HTTP:     &HTTPConfig{Port: "8080"},
		Queue:    DefaultQueueConfig(),
		Ingest: &IngestConfig{
			DedupWindow:   24 * time.Hour,
			HighWaterMark: 100,
			MaxAttempts:   3,
			RetryBase:     2 * time.Second,
			RetryCap:      5 * time.Minute,
			IngressDir:    "data/ingress",
		},
		Chunking: &ChunkingConfig{
			Size:    300,
			Overlap: 75,
		},
		ASR: &ASRConfig{
			Model:   "whisper-1",
			Device:  "auto",
			UseVAD:  true,
			Timeout: 60 * time.Second,
		},
		Embedding: &EmbeddingConfig{
			Model:     "text-embedding-3-small",
			BatchSize: 32,
			Timeout:   30 * time.Second,
		},
		LLM: &LLMConfig{
			Model:       "gpt-4o",
			MaxTokens:   256,
			Temperature: 0.3,
			Timeout:     60 * time.Second,
			MaxRetries:  3,
		},
		Retrieval: &RetrievalConfig{
			Variant:        "hybrid",
			TopK:           3,
			SemanticWeight: 0.7,
			LexicalWeight:  0.3,
			RerankPoolSize: 10,
			RewriteCount:   3,
			RRFK:           60,
			SystemPrompt:   DefaultSystemPrompt,
		},
		Sensors: &SensorConfig{
			URLInterval:           30 * time.Second,
			AudioFileInterval:     60 * time.Second,
			HealthInterval:        5 * time.Minute,
			CleanupInterval:       1 * time.Hour,
			AlertDispatchInterval: 2 * time.Minute,
			StorageCapBytes:       1 << 30, // 1 GiB
		},
		Bot: &BotConfig{
			ProgressInterval: 3 * time.Second,
		},
		Alerting: &AlertingConfig{
			FailureRateWindow:    15 * time.Minute,
			FailureRateMax:       0.10,
			BacklogMax:           50,
			LeaseExpiriesPerHour: 3,
		},
	}
}
