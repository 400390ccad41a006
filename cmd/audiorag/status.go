package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiorag/audiorag/pkg/models"
)

var stageOrder = []models.Stage{
	models.StageQueued,
	models.StageDownloading,
	models.StageDownloaded,
	models.StageTranscribing,
	models.StageTranscribed,
	models.StageChunking,
	models.StageChunked,
	models.StageEmbedding,
	models.StageEmbedded,
	models.StageIndexed,
	models.StageFailed,
	models.StageCancelled,
}

func newStatusCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print a snapshot of the pipeline and corpus",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runStatus(*configDir)
		},
	}
}

func runStatus(configDir string) error {
	a, err := openApp(configDir)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	an, err := a.store.CollectAnalytics(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Pipeline")
	for _, st := range stageOrder {
		if n := an.StageCounts[st]; n > 0 {
			fmt.Printf("  %-13s %d\n", st, n)
		}
	}
	fmt.Printf("  backlog       %d\n", an.Backlog)
	if an.OldestPendingAge > 0 {
		fmt.Printf("  oldest pending %s\n", an.OldestPendingAge.Round(time.Second))
	}
	fmt.Printf("  failure rate (24h)   %.1f%%\n", an.FailureRate24h*100)
	fmt.Printf("  lease expiries (1h)  %d\n", an.LeaseExpiries1h)

	fmt.Println("Corpus")
	fmt.Printf("  indexed submissions  %d\n", an.IndexedTotal)
	fmt.Printf("  chunks               %d\n", an.ChunksTotal)
	fmt.Printf("  vectors              %d\n", a.vectors.Count())
	for dir, bytes := range a.artifacts.Sizes() {
		fmt.Printf("  %-10s %s\n", dir, humanBytes(bytes))
	}

	fmt.Println("Queries")
	fmt.Printf("  total                %d\n", an.QueriesTotal)
	if an.QueriesTotal > 0 {
		fmt.Printf("  avg response         %.0fms\n", an.AvgResponseMs)
	}
	for rating, n := range an.Feedback24h {
		fmt.Printf("  feedback %-11s %d\n", rating, n)
	}
	return nil
}

func newDashboardCmd(configDir *string) *cobra.Command {
	var since time.Duration
	var events int

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Print recent alerts, queries and feedback",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runDashboard(*configDir, since, events)
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "alert and feedback window")
	cmd.Flags().IntVar(&events, "events", 10, "number of recent query events to show")
	return cmd
}

func runDashboard(configDir string, since time.Duration, events int) error {
	a, err := openApp(configDir)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	cutoff := time.Now().Add(-since)

	alerts, err := a.store.RecentAlerts(ctx, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Alerts (last %s)\n", since)
	if len(alerts) == 0 {
		fmt.Println("  none")
	}
	for _, al := range alerts {
		ack := ""
		if al.AcknowledgedAt != nil {
			ack = " (acked)"
		}
		fmt.Printf("  [%s] %s %s: %s%s\n",
			al.CreatedAt.Format(time.RFC3339), al.Severity, al.Kind, al.Message, ack)
	}

	recent, err := a.store.RecentQueryEvents(ctx, "", events)
	if err != nil {
		return err
	}
	fmt.Println("Recent queries")
	if len(recent) == 0 {
		fmt.Println("  none")
	}
	for _, ev := range recent {
		fmt.Printf("  #%d %s user=%s variant=%s %dms: %s\n",
			ev.ID, ev.CreatedAt.Format("15:04:05"), ev.UserID, ev.Variant, ev.ResponseTimeMs, ev.QueryText)
	}

	feedback, err := a.store.FeedbackSummary(ctx, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Feedback (last %s)\n", since)
	if len(feedback) == 0 {
		fmt.Println("  none")
	}
	for rating, n := range feedback {
		fmt.Printf("  %-18s %d\n", rating, n)
	}
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
