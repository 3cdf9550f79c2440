package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/inboxbot/core/logger"
	"github.com/m3rciful/inboxbot/core/secrets"
)

// ErrAPI marks failures talking to the Bot API: transport errors, non-2xx
// answers and ok=false envelopes.
var ErrAPI = errors.New("telegram: api call failed")

// Bot API method names used for logging and metrics labels.
const (
	MethodSendMessage    = "sendMessage"
	MethodEditMessage    = "editMessageText"
	MethodAnswerCallback = "answerCallbackQuery"
	MethodSetWebhook     = "setWebhook"
	MethodDeleteWebhook  = "deleteWebhook"
	MethodSetCommands    = "setMyCommands"
	MethodGetUpdates     = "getUpdates"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	Secrets    secrets.Provider
	SecretName string
	APIURL     string
	HTTPClient *http.Client
	// Observe is called once per Bot API call with status "ok" or "error".
	Observe func(method, status string)
}

// Client performs outbound Bot API calls. It holds no token: every call
// fetches the current one from the secret provider.
type Client struct {
	secrets    secrets.Provider
	secretName string
	apiURL     string
	http       *http.Client
	observe    func(method, status string)
}

// SendOptions controls how a text message is rendered.
type SendOptions struct {
	HTML   bool
	Markup *tele.ReplyMarkup
}

// NewClient builds a Client. A nil HTTPClient gets BuildHTTPClient defaults.
func NewClient(opts ClientOptions) *Client {
	c := &Client{
		secrets:    opts.Secrets,
		secretName: opts.SecretName,
		apiURL:     opts.APIURL,
		http:       opts.HTTPClient,
		observe:    opts.Observe,
	}
	if c.http == nil {
		c.http = BuildHTTPClient(HTTPOptions{})
	}
	if c.apiURL == "" {
		c.apiURL = tele.DefaultApiURL
	}
	return c
}

// Bot returns an offline telebot instance bound to the current token.
func (c *Client) Bot(ctx context.Context) (*tele.Bot, error) {
	if c.secrets == nil {
		return nil, fmt.Errorf("telegram: no secret provider")
	}
	token, err := secrets.BotToken(ctx, c.secrets, c.secretName)
	if err != nil {
		return nil, fmt.Errorf("telegram token: %w", err)
	}
	return tele.NewBot(tele.Settings{
		URL:     c.apiURL,
		Token:   token,
		Client:  c.http,
		Offline: true,
		OnError: func(err error, _ tele.Context) {
			logger.TG.Warn("telebot error",
				slog.String("event", "tg.error"),
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			)
		},
	})
}

// call runs fn against a fresh bot and records the outcome under method.
func (c *Client) call(ctx context.Context, method string, fn func(*tele.Bot) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	bot, err := c.Bot(ctx)
	if err == nil {
		err = fn(bot)
		if err != nil {
			err = fmt.Errorf("%s: %w: %w", method, ErrAPI, err)
		}
	}
	status := logger.Status(err)
	if c.observe != nil {
		c.observe(method, statusLabel(err))
	}
	level := slog.LevelDebug
	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("method", method),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
	}
	if level > slog.LevelDebug || logger.ShouldSampleDebug() {
		logger.LogEvent(ctx, logger.TG, level, "tg.call", attrs...)
	}
	return err
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (o SendOptions) telebot() *tele.SendOptions {
	so := &tele.SendOptions{ReplyMarkup: o.Markup}
	if o.HTML {
		so.ParseMode = tele.ModeHTML
	}
	return so
}

// SendMessage posts text to chatID and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error) {
	var id int
	err := c.call(ctx, MethodSendMessage, func(b *tele.Bot) error {
		msg, err := b.Send(tele.ChatID(chatID), text, opts.telebot())
		if err != nil {
			return err
		}
		id = msg.ID
		return nil
	})
	return id, err
}

// EditMessage replaces the text and keyboard of an existing message.
func (c *Client) EditMessage(ctx context.Context, chatID int64, messageID int, text string, opts SendOptions) error {
	return c.call(ctx, MethodEditMessage, func(b *tele.Bot) error {
		msg := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
		_, err := b.Edit(msg, text, opts.telebot())
		return err
	})
}

// AnswerCallback acknowledges a callback query with an optional toast text.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, MethodAnswerCallback, func(b *tele.Bot) error {
		return b.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
	})
}

// SetWebhook registers w with Telegram.
func (c *Client) SetWebhook(ctx context.Context, w *tele.Webhook) error {
	return c.call(ctx, MethodSetWebhook, func(b *tele.Bot) error {
		return b.SetWebhook(w)
	})
}

// DeleteWebhook removes the webhook so getUpdates can be used.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, MethodDeleteWebhook, func(b *tele.Bot) error {
		return b.RemoveWebhook(false)
	})
}

// SetCommands publishes the command menu.
func (c *Client) SetCommands(ctx context.Context, cmds []tele.Command) error {
	return c.call(ctx, MethodSetCommands, func(b *tele.Bot) error {
		return b.SetCommands(cmds)
	})
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset, timeoutSec int) ([]tele.Update, error) {
	var updates []tele.Update
	err := c.call(ctx, MethodGetUpdates, func(b *tele.Bot) error {
		params := map[string]string{
			"offset":          strconv.Itoa(offset),
			"timeout":         strconv.Itoa(timeoutSec),
			"allowed_updates": `["message","callback_query"]`,
		}
		data, err := b.Raw(MethodGetUpdates, params)
		if err != nil {
			return err
		}
		var resp struct {
			Result []tele.Update `json:"result"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("decode updates: %w", err)
		}
		updates = resp.Result
		return nil
	})
	return updates, err
}
