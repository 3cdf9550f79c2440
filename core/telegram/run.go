package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/inboxbot/core/logger"
)

// RegisterOptions controls Register.
type RegisterOptions struct {
	Webhook  WebhookOptions
	Registry *Registry
}

// Register points Telegram at the webhook and publishes the command menu.
// A failed menu update is logged but not fatal.
func Register(ctx context.Context, c *Client, opts RegisterOptions) error {
	w := BuildWebhook(opts.Webhook)
	if err := c.SetWebhook(ctx, w); err != nil {
		logger.TG.Error("webhook registration failed",
			slog.String("event", "webhook.register"),
			slog.String("public_url", w.Endpoint.PublicURL),
			slog.String("err", err.Error()),
		)
		return err
	}
	logger.TG.Info("webhook registered",
		slog.String("event", "webhook.register"),
		slog.String("mode", "webhook"),
		slog.String("public_url", w.Endpoint.PublicURL),
	)
	publishCommands(ctx, c, opts.Registry)
	return nil
}

func publishCommands(ctx context.Context, c *Client, reg *Registry) {
	if reg == nil {
		return
	}
	cmds := reg.ListCommands(true)
	if err := c.SetCommands(ctx, cmds); err != nil {
		logger.TG.LogAttrs(ctx, slog.LevelError, "register.commands.set_failed",
			slog.String("err", err.Error()),
		)
		return
	}
	logger.TG.LogAttrs(ctx, slog.LevelInfo, "register.commands",
		slog.Int("count", len(cmds)),
	)
}

// UpdateHandler processes one update synchronously.
type UpdateHandler func(ctx context.Context, u tele.Update) error

// LongPollOptions controls RunLongPoll.
type LongPollOptions struct {
	Client         *Client
	Registry       *Registry
	Handler        UpdateHandler
	TimeoutSeconds int
	// RetryDelay is the pause after a failed getUpdates call.
	RetryDelay time.Duration
}

// RunLongPoll is the local development runner: it removes any webhook, then
// feeds getUpdates results to the handler one at a time until ctx is done.
func RunLongPoll(ctx context.Context, opts LongPollOptions) error {
	if opts.Client == nil || opts.Handler == nil {
		return errors.New("telegram: long poll needs a client and a handler")
	}
	timeoutSec := opts.TimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}

	if err := opts.Client.DeleteWebhook(ctx); err != nil {
		logger.TG.Warn("failed to delete webhook",
			slog.String("event", "delete_webhook"),
			slog.String("mode", "longpoll"),
			slog.String("err", err.Error()),
		)
	} else {
		logger.TG.Info("webhook deleted",
			slog.String("event", "delete_webhook"),
			slog.String("mode", "longpoll"),
		)
	}
	publishCommands(ctx, opts.Client, opts.Registry)

	logger.TG.Info("polling mode",
		slog.String("event", "mode"),
		slog.String("mode", "longpoll"),
		slog.Int("timeout_seconds", timeoutSec),
	)

	offset := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := opts.Client.GetUpdates(ctx, offset, timeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		for _, u := range updates {
			if u.ID >= offset {
				offset = u.ID + 1
			}
			if err := opts.Handler(ctx, u); err != nil {
				logger.TG.Error("update failed",
					slog.String("event", "update.handle"),
					slog.Int("update_id", u.ID),
					slog.String("err", err.Error()),
				)
			}
		}
	}
}
