package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the user configuration file looked up in the config dir.
const ConfigFileName = "audiorag.yaml"

// Initialize loads, merges, and validates the configuration.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Overlay audiorag.yaml from configDir (missing file is fine)
//  3. Apply environment overrides (DATA_ROOT, ASR_MODEL, ...)
//  4. Validate
func Initialize(configDir string) (*Config, error) {
	cfg := defaultConfig()
	cfg.configDir = configDir

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("No configuration file, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	default:
		user := &Config{}
		if err := yaml.Unmarshal(ExpandEnv(data), user); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		// User values win over built-ins.
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging configuration: %w", err)
		}
		slog.Info("Loaded configuration", "path", path)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides maps the recognized environment variables onto the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_ROOT"); v != "" {
		cfg.DataRoot = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.HTTP.Port = v
	}
	if v := os.Getenv("ASR_MODEL"); v != "" {
		cfg.ASR.Model = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("DEVICE"); v != "" {
		cfg.ASR.Device = v
	}
	if v := os.Getenv("ADMIN_CHAT_ID"); v != "" {
		cfg.Alerting.AdminChannel = v
	}
	if os.Getenv("BOT_TOKEN") != "" {
		cfg.Bot.Enabled = true
	}
}

// validate rejects configurations that cannot run.
func validate(cfg *Config) error {
	if cfg.DataRoot == "" {
		return fmt.Errorf("data_root must not be empty")
	}
	if cfg.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", cfg.Chunking.Size)
	}
	if cfg.Chunking.Overlap < 0 || cfg.Chunking.Overlap >= cfg.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, size), got %d", cfg.Chunking.Overlap)
	}
	if cfg.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", cfg.Embedding.BatchSize)
	}
	if cfg.Ingest.MaxAttempts <= 0 {
		return fmt.Errorf("ingest.max_attempts must be positive, got %d", cfg.Ingest.MaxAttempts)
	}
	if w := cfg.Retrieval.SemanticWeight + cfg.Retrieval.LexicalWeight; w <= 0 {
		return fmt.Errorf("retrieval weights must sum to a positive value, got %v", w)
	}
	for stage, n := range cfg.Queue.StageConcurrency {
		if n < 0 {
			return fmt.Errorf("queue.stage_concurrency[%s] must not be negative", stage)
		}
	}
	return nil
}
