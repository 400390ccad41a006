package chatbot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	goslack "github.com/slack-go/slack"

	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/models"
	"github.com/audiorag/audiorag/pkg/retrieval"
)

// Feedback button action ids; the value carries the query event id.
const (
	actionFeedbackPositive = "feedback-positive"
	actionFeedbackNegative = "feedback-negative"
	actionFeedbackDetail   = "feedback-detail"
)

var actionRatings = map[string]models.Rating{
	actionFeedbackPositive: models.RatingPositive,
	actionFeedbackNegative: models.RatingNegative,
	actionFeedbackDetail:   models.RatingDetailRequested,
}

// handleMessage routes one user message: verbose toggle, URL submission, or
// retrieval query.
func (b *Bot) handleMessage(ctx context.Context, userID, channel, text string) error {
	trimmed := strings.TrimSpace(text)
	if strings.EqualFold(trimmed, "verbose") {
		return b.toggleVerbose(ctx, userID, channel)
	}
	if urls := urlPattern.FindAllString(trimmed, -1); len(urls) > 0 {
		return b.submitURLs(ctx, userID, channel, urls)
	}
	return b.answerQuery(ctx, userID, channel, trimmed)
}

func (b *Bot) toggleVerbose(ctx context.Context, userID, channel string) error {
	pref, err := b.store.UserPref(ctx, userID)
	if err != nil {
		return err
	}
	verbose := !pref.Verbose
	if err := b.store.SetVerbose(ctx, userID, verbose); err != nil {
		return err
	}
	state := "off"
	if verbose {
		state = "on"
	}
	_, err = b.msg.Post(ctx, channel, fmt.Sprintf("Verbose mode is now *%s*.", state))
	return err
}

func (b *Bot) submitURLs(ctx context.Context, userID, channel string, urls []string) error {
	var ids []int64
	var rejected []string
	for _, url := range urls {
		sub, err := b.store.InsertSubmission(ctx, jobstore.InsertInput{
			SourceKind: models.SourceRemoteURL,
			Source:     url,
			UserID:     userID,
		})
		switch {
		case err == nil:
			ids = append(ids, sub.ID)
		case errors.Is(err, jobstore.ErrDuplicateSource):
			rejected = append(rejected, url+" (already processing)")
		case errors.Is(err, jobstore.ErrBackpressure):
			rejected = append(rejected, url+" (backlog full, retry later)")
		default:
			return err
		}
	}

	if len(rejected) > 0 {
		if _, err := b.msg.Post(ctx, channel, "Skipped:\n• "+strings.Join(rejected, "\n• ")); err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		return nil
	}

	ts, err := b.msg.Post(ctx, channel, fmt.Sprintf("Processing %d submission(s)\n%s", len(ids), RenderProgressBar(0)))
	if err != nil {
		return err
	}
	go b.trackProgress(ctx, channel, ts, ids)
	return nil
}

func (b *Bot) answerQuery(ctx context.Context, userID, channel, question string) error {
	if question == "" {
		return nil
	}
	pref, err := b.store.UserPref(ctx, userID)
	if err != nil {
		return err
	}

	resp, err := b.engine.Query(ctx, retrieval.Request{UserID: userID, Query: question})
	if err != nil {
		_, perr := b.msg.Post(ctx, channel, "Query failed, please try again.")
		if perr != nil {
			return perr
		}
		return err
	}
	if resp.NoCorpus {
		_, err := b.msg.Post(ctx, channel, "Nothing has been indexed yet. Send me a URL first!")
		return err
	}

	_, err = b.msg.Post(ctx, channel, resp.Answer, answerBlocks(resp, pref.Verbose)...)
	return err
}

// answerBlocks renders the answer with optional source detail and the
// feedback button row.
func answerBlocks(resp *retrieval.Response, verbose bool) []goslack.Block {
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, resp.Answer, false, false),
			nil, nil,
		),
	}
	if verbose && len(resp.Chunks) > 0 {
		var sb strings.Builder
		sb.WriteString("*Sources:*\n")
		for i, c := range resp.Chunks {
			if i == 3 {
				break
			}
			text := c.Text
			if len(text) > 100 {
				text = text[:100] + "…"
			}
			fmt.Fprintf(&sb, "%d. %s\n", i+1, text)
		}
		fmt.Fprintf(&sb, "_%.2fs_", float64(resp.ElapsedMs)/1000)
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, sb.String(), false, false),
			nil, nil,
		))
	}

	eventID := strconv.FormatInt(resp.EventID, 10)
	blocks = append(blocks, goslack.NewActionBlock("feedback",
		goslack.NewButtonBlockElement(actionFeedbackPositive, eventID,
			goslack.NewTextBlockObject(goslack.PlainTextType, "👍", true, false)),
		goslack.NewButtonBlockElement(actionFeedbackNegative, eventID,
			goslack.NewTextBlockObject(goslack.PlainTextType, "👎", true, false)),
		goslack.NewButtonBlockElement(actionFeedbackDetail, eventID,
			goslack.NewTextBlockObject(goslack.PlainTextType, "🔍 More details", true, false)),
	))
	return blocks
}

// handleBlockAction records feedback button presses.
func (b *Bot) handleBlockAction(ctx context.Context, userID, channel, actionID, value string) error {
	rating, ok := actionRatings[actionID]
	if !ok {
		return nil
	}
	eventID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("bad feedback value %q: %w", value, err)
	}
	if _, err := b.store.RecordFeedback(ctx, eventID, rating, ""); err != nil {
		return err
	}
	b.logger.Info("Feedback recorded", "user", userID, "query_event_id", eventID, "rating", rating)
	_, err = b.msg.Post(ctx, channel, "Feedback recorded, thank you!")
	return err
}
