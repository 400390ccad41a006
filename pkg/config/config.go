// Package config loads and validates the immutable configuration object
// handed to every component at construction.
package config

import (
	"path/filepath"
	"time"
)

// Config is the umbrella configuration for the whole engine. It is loaded
// once at startup and treated as read-only afterwards.
type Config struct {
	configDir string

	// DataRoot is the directory holding jobstore.db, vectorstore/, audio/,
	// transcripts/, chunks/ and logs/.
	DataRoot string `yaml:"data_root"`

	HTTP      *HTTPConfig      `yaml:"http"`
	Queue     *QueueConfig     `yaml:"queue"`
	Ingest    *IngestConfig    `yaml:"ingest"`
	Chunking  *ChunkingConfig  `yaml:"chunking"`
	ASR       *ASRConfig       `yaml:"asr"`
	Embedding *EmbeddingConfig `yaml:"embedding"`
	LLM       *LLMConfig       `yaml:"llm"`
	Retrieval *RetrievalConfig `yaml:"retrieval"`
	Sensors   *SensorConfig    `yaml:"sensors"`
	Bot       *BotConfig       `yaml:"bot"`
	Alerting  *AlertingConfig  `yaml:"alerting"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Port string `yaml:"port"`
}

// IngestConfig controls submission intake.
type IngestConfig struct {
	// DedupWindow rejects duplicate (user, source) pairs that already have a
	// non-terminal submission newer than this window.
	DedupWindow time.Duration `yaml:"dedup_window"`

	// HighWaterMark is the pending-submission count above which inserts are
	// rejected with backpressure.
	HighWaterMark int `yaml:"high_water_mark"`

	MaxAttempts int           `yaml:"max_attempts"`
	RetryBase   time.Duration `yaml:"retry_base"`
	RetryCap    time.Duration `yaml:"retry_cap"`

	// IngressDir is the watched directory scanned by the audio-file sensor.
	IngressDir string `yaml:"ingress_dir"`
}

// ChunkingConfig controls transcript chunking.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// ASRConfig controls the speech-recognition stage.
type ASRConfig struct {
	Model   string        `yaml:"model"`
	Device  string        `yaml:"device"` // auto, cpu, gpu
	UseVAD  bool          `yaml:"use_vad"`
	UseFake bool          `yaml:"use_fake"`
	Timeout time.Duration `yaml:"timeout"`
}

// EmbeddingConfig controls the embedding stage and query-time encoding.
type EmbeddingConfig struct {
	Model     string        `yaml:"model"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LLMConfig controls the chat model used for answers, rewriting and judging.
type LLMConfig struct {
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// RetrievalConfig controls the query path.
type RetrievalConfig struct {
	Variant        string  `yaml:"variant"`
	TopK           int     `yaml:"top_k"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	LexicalWeight  float64 `yaml:"lexical_weight"`
	RerankPoolSize int     `yaml:"rerank_pool_size"`
	RewriteCount   int     `yaml:"rewrite_count"`
	RRFK           int     `yaml:"rrf_k"`
	SystemPrompt   string  `yaml:"system_prompt"`
}

// SensorConfig holds sensor intervals and thresholds.
type SensorConfig struct {
	URLInterval           time.Duration `yaml:"url_interval"`
	AudioFileInterval     time.Duration `yaml:"audio_file_interval"`
	HealthInterval        time.Duration `yaml:"health_interval"`
	CleanupInterval       time.Duration `yaml:"cleanup_interval"`
	AlertDispatchInterval time.Duration `yaml:"alert_dispatch_interval"`

	// StorageCapBytes triggers cleanup jobs and storage alerts when the
	// artifact store grows past it. Zero disables the cap.
	StorageCapBytes int64 `yaml:"storage_cap_bytes"`
}

// BotConfig enables the chat-bot transport when tokens are present.
type BotConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Channel          string        `yaml:"channel"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// AlertingConfig holds health thresholds and the admin channel.
type AlertingConfig struct {
	AdminChannel         string        `yaml:"admin_channel"`
	FailureRateWindow    time.Duration `yaml:"failure_rate_window"`
	FailureRateMax       float64       `yaml:"failure_rate_max"`
	BacklogMax           int           `yaml:"backlog_max"`
	LeaseExpiriesPerHour int           `yaml:"lease_expiries_per_hour"`
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// JobStorePath is the location of the single transactional store file.
func (c *Config) JobStorePath() string {
	return filepath.Join(c.DataRoot, "jobstore.db")
}

// VectorStorePath is the directory managed by the vector store.
func (c *Config) VectorStorePath() string {
	return filepath.Join(c.DataRoot, "vectorstore")
}

// LogsPath is the directory for evaluation reports and rotated logs.
func (c *Config) LogsPath() string {
	return filepath.Join(c.DataRoot, "logs")
}
