package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/m3rciful/inboxbot/core/address"
	"github.com/m3rciful/inboxbot/core/logger"
	"github.com/m3rciful/inboxbot/core/secrets"
	"github.com/m3rciful/inboxbot/core/telegram"
	"github.com/m3rciful/inboxbot/core/telegram/keyboard"
)

// countingMessenger counts delivered messages and keyboard usage for the handler summary.
type countingMessenger struct {
	Messenger
	messages int
	answers  int
	kb       bool
}

func (m *countingMessenger) inc(opts telegram.SendOptions) {
	m.messages++
	if keyboard.HasButtons(opts.Markup) {
		m.kb = true
	}
}

func (m *countingMessenger) SendMessage(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (int, error) {
	id, err := m.Messenger.SendMessage(ctx, chatID, text, opts)
	if err == nil {
		m.inc(opts)
	}
	return id, err
}

func (m *countingMessenger) EditMessage(ctx context.Context, chatID int64, messageID int, text string, opts telegram.SendOptions) error {
	err := m.Messenger.EditMessage(ctx, chatID, messageID, text, opts)
	if err == nil {
		m.inc(opts)
	}
	return err
}

func (m *countingMessenger) AnswerCallback(ctx context.Context, callbackID, text string) error {
	err := m.Messenger.AnswerCallback(ctx, callbackID, text)
	if err == nil {
		m.answers++
	}
	return err
}

// logHandlerSummary emits the single handler.handled line for an update.
func (d *Dispatcher) logHandlerSummary(ctx context.Context, handlerName string, start time.Time, out *countingMessenger, outcome string, err error, extras ...slog.Attr) {
	took := time.Since(start)
	if outcome == "" {
		outcome = "ok"
	}
	if err != nil {
		outcome = "fail"
	}
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("handler", handlerName),
		slog.String("outcome", outcome),
		slog.Int("messages", out.messages),
		slog.Bool("kb", out.kb),
		slog.Duration("duration", logger.RoundMS(took)),
	}
	if out.answers > 0 {
		attrs = append(attrs, slog.Int("answers", out.answers))
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", deriveErrorCode(err)),
			slog.String("cause", handlerName),
		)
	}
	attrs = append(attrs, extras...)
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	logger.LogEvent(ctx, logger.Dispatch, level, "handler.handled", attrs...)

	if d.metrics != nil {
		d.metrics.HandlerTotal.WithLabelValues(handlerName, outcome).Inc()
		d.metrics.HandlerDuration.WithLabelValues(handlerName).Observe(took.Seconds())
	}
}

func normalizeHandlerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}
	name = strings.TrimPrefix(name, "/")
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ToLower(name)
}

var errorCodes = []struct {
	target error
	code   string
}{
	{ErrMalformedUpdate, "MALFORMED_UPDATE"},
	{secrets.ErrNotFound, "SECRET_NOT_FOUND"},
	{telegram.ErrAPI, "TELEGRAM_API"},
	{address.ErrExhausted, "ADDRESS_EXHAUSTED"},
	{address.ErrNotFound, "ADDRESS_NOT_FOUND"},
	{address.ErrNotOwner, "ADDRESS_NOT_OWNER"},
	{context.DeadlineExceeded, "TIMEOUT"},
	{context.Canceled, "CANCELED"},
}

func deriveErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.target) {
			return ec.code
		}
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Name() != "" {
		return strings.ToUpper(t.Name())
	}
	return "UNKNOWN_ERROR"
}
