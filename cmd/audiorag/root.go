package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/asr"
	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/downloader"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/llm"
	"github.com/audiorag/audiorag/pkg/pipeline"
	"github.com/audiorag/audiorag/pkg/retrieval"
	"github.com/audiorag/audiorag/pkg/vectorstore"
	"github.com/audiorag/audiorag/pkg/version"
)

// usageError marks failures caused by the caller's input; main maps it to
// exit code 1.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func userErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// requireArgs validates positional arguments as user errors, not usage text.
func requireArgs(min int, what string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) < min {
			return userErrorf("expected %s", what)
		}
		return nil
	}
}

func newRootCmd() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:           "audiorag",
		Short:         "Audio RAG ingestion and retrieval engine",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogging()
		},
	}
	root.PersistentFlags().StringVar(&configDir, "config-dir",
		getEnv("CONFIG_DIR", "./config"), "configuration directory")

	root.AddCommand(
		newServeCmd(&configDir),
		newProcessCmd(&configDir),
		newQueryCmd(&configDir),
		newStatusCmd(&configDir),
		newEvaluateCmd(&configDir),
		newIngestJobCmd(&configDir),
		newRunIngestionCmd(&configDir),
		newDashboardCmd(&configDir),
	)
	return root
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// app holds the shared stores every subcommand needs.
type app struct {
	cfg       *config.Config
	store     *jobstore.Store
	artifacts *artifact.Store
	vectors   *vectorstore.Store
}

// openApp loads configuration and opens the stores.
func openApp(configDir string) (*app, error) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	}

	cfg, err := config.Initialize(configDir)
	if err != nil {
		return nil, err
	}

	store, err := jobstore.Open(cfg.JobStorePath(), cfg.Ingest)
	if err != nil {
		return nil, err
	}
	artifacts, err := artifact.NewStore(cfg.DataRoot)
	if err != nil {
		store.Close()
		return nil, err
	}
	vectors, err := vectorstore.Open(cfg.VectorStorePath())
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{cfg: cfg, store: store, artifacts: artifacts, vectors: vectors}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		slog.Error("Error closing job store", "error", err)
	}
}

// llmClient builds the OpenAI-backed chat and embedding client.
func (a *app) llmClient() (*llm.Client, error) {
	return llm.NewClient(a.cfg.LLM, a.cfg.Embedding)
}

// engine builds the retrieval engine over the given model clients.
func (a *app) engine(embedder llm.Embedder, chat llm.ChatClient) *retrieval.Engine {
	return retrieval.NewEngine(a.store, a.artifacts, a.vectors, embedder, chat, a.cfg.Retrieval)
}

// executors assembles the five stage executors the worker pool runs.
func (a *app) executors(client *llm.Client) ([]pipeline.StageExecutor, error) {
	fake := &asr.FakeTranscriber{}
	var real asr.Transcriber
	if a.cfg.ASR.UseFake {
		real = fake
	} else {
		t, err := asr.NewOpenAITranscriber(a.cfg.ASR)
		if err != nil {
			return nil, err
		}
		real = t
	}

	downloadTimeout := a.cfg.Queue.ClaimLease
	if downloadTimeout <= 0 {
		downloadTimeout = 10 * time.Minute
	}

	return []pipeline.StageExecutor{
		&pipeline.DownloadExecutor{
			Store:     a.store,
			Artifacts: a.artifacts,
			Remote:    downloader.NewYTDLPFetcher(downloadTimeout),
			Local:     downloader.LocalFileFetcher{},
		},
		&pipeline.TranscribeExecutor{Artifacts: a.artifacts, Real: real, Fake: fake},
		&pipeline.ChunkExecutor{Store: a.store, Artifacts: a.artifacts, Cfg: a.cfg.Chunking},
		&pipeline.EmbedExecutor{
			Store:     a.store,
			Artifacts: a.artifacts,
			Embedder:  client,
			Vectors:   a.vectors,
			Cfg:       a.cfg.Embedding,
		},
		&pipeline.IndexExecutor{Vectors: a.vectors},
	}, nil
}

// nodeID identifies this process for claim ownership.
// Priority: NODE_ID env > HOSTNAME env > "local".
func nodeID() string {
	if id := os.Getenv("NODE_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}
