// Package chatbot runs the Slack bot: URL messages become submissions with
// live progress edits, plain text is answered by the retrieval engine, and
// inline buttons record feedback.
package chatbot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/retrieval"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>|]+`)

const defaultProgressInterval = 3 * time.Second

// Bot wires Slack Socket Mode to the job store and the retrieval engine.
type Bot struct {
	store  *jobstore.Store
	engine *retrieval.Engine
	cfg    *config.BotConfig
	msg    messenger
	sock   *socketmode.Client
	logger *slog.Logger
}

// NewBot builds the bot. botToken is the xoxb token, appToken the xapp
// socket-mode token.
func NewBot(store *jobstore.Store, engine *retrieval.Engine, cfg *config.BotConfig, botToken, appToken string) *Bot {
	api := goslack.New(botToken, goslack.OptionAppLevelToken(appToken))
	return &Bot{
		store:  store,
		engine: engine,
		cfg:    cfg,
		msg:    &slackMessenger{api: api},
		sock:   socketmode.New(api),
		logger: slog.Default().With("component", "chatbot"),
	}
}

// Run processes Socket Mode events until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-b.sock.Events:
				if !ok {
					return
				}
				b.handleEvent(ctx, evt)
			}
		}
	}()
	return b.sock.RunContext(ctx)
}

func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		b.logger.Info("Slack socket connected")

	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			b.sock.Ack(*evt.Request)
		}
		msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok || msg.BotID != "" || msg.Text == "" {
			return
		}
		if err := b.handleMessage(ctx, msg.User, msg.Channel, msg.Text); err != nil {
			b.logger.Error("Message handling failed", "user", msg.User, "error", err)
		}

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(goslack.InteractionCallback)
		if !ok {
			return
		}
		if evt.Request != nil {
			b.sock.Ack(*evt.Request)
		}
		for _, action := range callback.ActionCallback.BlockActions {
			if err := b.handleBlockAction(ctx, callback.User.ID, callback.Channel.ID, action.ActionID, action.Value); err != nil {
				b.logger.Error("Block action failed", "action", action.ActionID, "error", err)
			}
		}
	}
}

func (b *Bot) progressInterval() time.Duration {
	if b.cfg != nil && b.cfg.ProgressInterval > 0 {
		return b.cfg.ProgressInterval
	}
	return defaultProgressInterval
}

// messenger is the Slack posting surface, separated so handlers are testable
// without a socket connection.
type messenger interface {
	Post(ctx context.Context, channel, text string, blocks ...goslack.Block) (string, error)
	Update(ctx context.Context, channel, ts, text string, blocks ...goslack.Block) error
}

type slackMessenger struct {
	api *goslack.Client
}

func (m *slackMessenger) Post(ctx context.Context, channel, text string, blocks ...goslack.Block) (string, error) {
	opts := []goslack.MsgOption{goslack.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, goslack.MsgOptionBlocks(blocks...))
	}
	_, ts, err := m.api.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return "", fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return ts, nil
}

func (m *slackMessenger) Update(ctx context.Context, channel, ts, text string, blocks ...goslack.Block) error {
	opts := []goslack.MsgOption{goslack.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, goslack.MsgOptionBlocks(blocks...))
	}
	if _, _, _, err := m.api.UpdateMessageContext(ctx, channel, ts, opts...); err != nil {
		return fmt.Errorf("chat.update failed: %w", err)
	}
	return nil
}
