package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiorag/audiorag/pkg/alerting"
	"github.com/audiorag/audiorag/pkg/api"
	"github.com/audiorag/audiorag/pkg/chatbot"
	"github.com/audiorag/audiorag/pkg/scheduler"
)

func newServeCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the full engine: worker pool, sensors, HTTP API, and chat bot",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runServe(*configDir)
		},
	}
}

func runServe(configDir string) error {
	a, err := openApp(configDir)
	if err != nil {
		return err
	}
	defer a.close()

	client, err := a.llmClient()
	if err != nil {
		return err
	}
	engine := a.engine(client, client)

	executors, err := a.executors(client)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node := nodeID()
	pool := scheduler.NewPool(node, a.store, a.cfg.Queue, executors)
	if err := pool.Start(ctx); err != nil {
		return err
	}
	defer pool.Stop()

	sensors := scheduler.NewSensors(a.store, a.cfg.Sensors, a.cfg.Ingest, a.cfg.DataRoot)
	sensors.Start(ctx)
	defer sensors.Stop()

	botToken := getEnv("BOT_TOKEN", os.Getenv("SLACK_BOT_TOKEN"))
	notifier := alerting.NewService(botToken, a.cfg.Alerting.AdminChannel)
	runner := scheduler.NewJobRunner(a.store, a.artifacts, a.vectors, a.cfg.Alerting, a.cfg.Queue, notifier)
	runner.Start(ctx)
	defer runner.Stop()

	server := api.NewServer(a.store, a.artifacts, engine, pool, a.vectors, a.cfg.HTTP)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	if a.cfg.Bot.Enabled {
		appToken := os.Getenv("SLACK_APP_TOKEN")
		if botToken == "" || appToken == "" {
			slog.Warn("Chat bot enabled but BOT_TOKEN/SLACK_APP_TOKEN are missing, skipping")
		} else {
			bot := chatbot.NewBot(a.store, engine, a.cfg.Bot, botToken, appToken)
			go func() {
				if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
					slog.Error("Chat bot stopped", "error", err)
				}
			}()
		}
	}

	slog.Info("audiorag started", "node_id", node, "http_port", a.cfg.HTTP.Port, "data_root", a.cfg.DataRoot)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "error", err)
	}
	return nil
}
