package chatbot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/audiorag/audiorag/pkg/models"
)

const progressBarCells = 5

// RenderProgressBar draws the textual bar, e.g. "▓▓▓░░ 60%".
func RenderProgressBar(percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := progressBarCells * percent / 100
	return fmt.Sprintf("%s%s %d%%",
		strings.Repeat("▓", filled),
		strings.Repeat("░", progressBarCells-filled),
		percent)
}

// trackProgressTimeout bounds how long one progress message is edited.
// Submissions stuck in retry backoff past it keep running; only the edits
// stop.
const trackProgressTimeout = 30 * time.Minute

// trackProgress polls submission progress and edits the posted message until
// every submission reaches a terminal stage, the bot shuts down, or the
// timeout lapses.
func (b *Bot) trackProgress(ctx context.Context, channel, ts string, ids []int64) {
	ctx, cancel := context.WithTimeout(ctx, trackProgressTimeout)
	defer cancel()
	ticker := time.NewTicker(b.progressInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		text, done := b.progressText(ctx, ids)
		if err := b.msg.Update(ctx, channel, ts, text); err != nil {
			b.logger.Warn("Progress update failed", "error", err)
		}
		if done {
			return
		}
	}
}

// progressText summarizes the submissions' combined progress. done is true
// once all are terminal.
func (b *Bot) progressText(ctx context.Context, ids []int64) (string, bool) {
	total := 0
	terminal := 0
	var failures []int64
	for _, id := range ids {
		p, err := b.store.GetProgress(ctx, id)
		if err != nil {
			b.logger.Warn("Progress lookup failed", "submission_id", id, "error", err)
			terminal++
			continue
		}
		total += p.Percent
		if p.Stage.Terminal() {
			terminal++
			if p.Stage == models.StageFailed {
				failures = append(failures, id)
			}
		}
	}

	percent := total / len(ids)
	if terminal < len(ids) {
		return fmt.Sprintf("Processing %d submission(s)\n%s", len(ids), RenderProgressBar(percent)), false
	}
	if len(failures) > 0 {
		return fmt.Sprintf("Finished with %d failure(s) out of %d submission(s).", len(failures), len(ids)), true
	}
	return fmt.Sprintf("Done! %d submission(s) indexed and ready for questions.\n%s", len(ids), RenderProgressBar(100)), true
}
