package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiorag/audiorag/pkg/chatbot"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/models"
	"github.com/audiorag/audiorag/pkg/scheduler"
)

func newProcessCmd(configDir *string) *cobra.Command {
	var useFakeASR bool
	var language string

	cmd := &cobra.Command{
		Use:   "process <url>...",
		Short: "Submit URLs and run the pipeline to completion",
		Args:  requireArgs(1, "at least one URL"),
		RunE: func(_ *cobra.Command, args []string) error {
			return runProcess(*configDir, args, useFakeASR, language)
		},
	}
	cmd.Flags().BoolVar(&useFakeASR, "use-fake-asr", false, "use the deterministic fake transcriber")
	cmd.Flags().StringVar(&language, "language", "", "language hint for transcription")
	return cmd
}

func runProcess(configDir string, urls []string, useFakeASR bool, language string) error {
	a, err := openApp(configDir)
	if err != nil {
		return err
	}
	defer a.close()

	ids, err := submitURLs(a, urls, useFakeASR, language)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return userErrorf("no new submissions accepted")
	}

	client, err := a.llmClient()
	if err != nil {
		return err
	}
	executors, err := a.executors(client)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	pool := scheduler.NewPool(nodeID(), a.store, a.cfg.Queue, executors)
	if err := pool.Start(ctx); err != nil {
		return err
	}
	defer pool.Stop()

	return waitForSubmissions(ctx, a, ids)
}

// submitURLs inserts one submission per URL, reporting duplicates without
// failing the batch.
func submitURLs(a *app, urls []string, useFakeASR bool, language string) ([]int64, error) {
	ctx := context.Background()
	var ids []int64
	for _, url := range urls {
		sub, err := a.store.InsertSubmission(ctx, jobstore.InsertInput{
			SourceKind:   models.SourceRemoteURL,
			Source:       url,
			UserID:       "cli",
			LanguageHint: language,
			UseFakeASR:   useFakeASR,
		})
		switch {
		case err == nil:
			fmt.Printf("Accepted submission %d: %s\n", sub.ID, url)
			ids = append(ids, sub.ID)
		case errors.Is(err, jobstore.ErrDuplicateSource):
			fmt.Printf("Skipped (already processing): %s\n", url)
		case errors.Is(err, jobstore.ErrBackpressure):
			return ids, userErrorf("ingestion backlog is full, retry later")
		default:
			return ids, err
		}
	}
	return ids, nil
}

// waitForSubmissions polls progress and prints a bar until every submission
// is terminal. Returns an error when any submission failed.
func waitForSubmissions(ctx context.Context, a *app, ids []int64) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		allTerminal := true
		var failed []int64
		total := 0
		for _, id := range ids {
			p, err := a.store.GetProgress(ctx, id)
			if err != nil {
				return err
			}
			total += p.Percent
			if !p.Stage.Terminal() {
				allTerminal = false
				continue
			}
			if p.Stage == models.StageFailed {
				failed = append(failed, id)
			}
		}

		fmt.Printf("\r%s", chatbot.RenderProgressBar(total/len(ids)))
		if !allTerminal {
			continue
		}
		fmt.Println()
		if len(failed) > 0 {
			for _, id := range failed {
				p, _ := a.store.GetProgress(ctx, id)
				if p != nil {
					fmt.Fprintf(os.Stderr, "Submission %d failed: %s\n", id, p.ErrorMessage)
				}
			}
			return fmt.Errorf("%d of %d submissions failed", len(failed), len(ids))
		}
		fmt.Printf("Indexed %d submission(s).\n", len(ids))
		return nil
	}
}

func newIngestJobCmd(configDir *string) *cobra.Command {
	var useFakeASR bool
	var language string

	cmd := &cobra.Command{
		Use:   "ingest-job <url>...",
		Short: "Enqueue URLs for a running server to process",
		Args:  requireArgs(1, "at least one URL"),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := openApp(*configDir)
			if err != nil {
				return err
			}
			defer a.close()

			ids, err := submitURLs(a, args, useFakeASR, language)
			if err != nil {
				return err
			}
			fmt.Printf("Enqueued %d submission(s).\n", len(ids))
			return nil
		},
	}
	cmd.Flags().BoolVar(&useFakeASR, "use-fake-asr", false, "use the deterministic fake transcriber")
	cmd.Flags().StringVar(&language, "language", "", "language hint for transcription")
	return cmd
}

func newRunIngestionCmd(configDir *string) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "run-ingestion",
		Short: "Process pending submissions until the backlog drains",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if !all {
				return userErrorf("pass --all to process the pending backlog")
			}
			return runIngestion(*configDir)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "process every pending submission")
	return cmd
}

func runIngestion(configDir string) error {
	a, err := openApp(configDir)
	if err != nil {
		return err
	}
	defer a.close()

	client, err := a.llmClient()
	if err != nil {
		return err
	}
	executors, err := a.executors(client)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	pool := scheduler.NewPool(nodeID(), a.store, a.cfg.Queue, executors)
	if err := pool.Start(ctx); err != nil {
		return err
	}
	defer pool.Stop()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		backlog, err := a.store.BacklogSize(ctx)
		if err != nil {
			return err
		}
		running, err := a.store.RunningCount(ctx)
		if err != nil {
			return err
		}
		if backlog == 0 && running == 0 {
			fmt.Println("Backlog drained.")
			return nil
		}
		fmt.Printf("\rbacklog=%d running=%d ", backlog, running)
	}
}
