package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/inboxbot/core/address"
	"github.com/m3rciful/inboxbot/core/logger"
	"github.com/m3rciful/inboxbot/core/telegram"
	"github.com/m3rciful/inboxbot/core/telegram/callbacks"
	"github.com/m3rciful/inboxbot/core/telegram/keyboard"
)

func deactivateKeyboard(recs []address.Record) *tele.ReplyMarkup {
	return keyboard.DeactivateList(activeEmails(recs))
}

func (d *Dispatcher) routeCallback(ctx context.Context, u tele.Update) (Response, error) {
	cb := u.Callback
	if cb.Sender == nil {
		return Response{}, fmt.Errorf("%w: callback without sender", ErrMalformedUpdate)
	}
	t := &turn{
		chatID:     cb.Sender.ID,
		userID:     cb.Sender.ID,
		callbackID: cb.ID,
		out:        &countingMessenger{Messenger: d.messenger},
	}
	// Edits target the chat holding the button; private chats share the user id.
	if cb.Message != nil {
		t.messageID = cb.Message.ID
		if cb.Message.Chat != nil {
			t.chatID = cb.Message.Chat.ID
		}
	}
	ctx = updateContext(ctx, u.ID, t.chatID, t.userID)

	name, _ := callbacks.Split(cb.Data)
	extras := []slog.Attr{slog.String("cb_action", logger.SanitizeLimit(name, 64))}
	if logger.ShouldSampleDebug() {
		logger.LogEvent(ctx, logger.Dispatch, slog.LevelDebug, "update.received",
			slog.String("status", "ok"),
			slog.String("kind", "callback"),
			slog.String("payload", logger.SanitizeLimit(cb.Data, 256)),
		)
	}

	action, err := callbacks.Parse(cb.Data)
	if err != nil {
		extras = append(extras, slog.String("reason", logger.SanitizeLimit(err.Error(), 128)))
		resp, runErr := d.run(ctx, "callback.unsupported", t, d.handleUnsupported, extras...)
		if runErr != nil {
			return resp, runErr
		}
		return Response{StatusCode: http.StatusOK}, nil
	}

	var h messageHandler
	switch a := action.(type) {
	case callbacks.Deactivate:
		extras = append(extras, slog.String("address", a.Email))
		h = func(ctx context.Context, t *turn) (result, error) { return d.handlePrompt(ctx, t, a.Email) }
	case callbacks.ConfirmDeactivate:
		extras = append(extras, slog.String("address", a.Email))
		h = func(ctx context.Context, t *turn) (result, error) { return d.handleConfirm(ctx, t, a.Email) }
	case callbacks.CancelDeactivate:
		h = d.handleCancel
	}
	return d.run(ctx, "callback."+action.Name(), t, h, extras...)
}

// editOrSend edits the message carrying the button, or sends a new one when
// there is no such message or the edit is rejected.
func editOrSend(ctx context.Context, t *turn, text string, opts telegram.SendOptions) error {
	if t.messageID != 0 {
		err := t.out.EditMessage(ctx, t.chatID, t.messageID, text, opts)
		if err == nil {
			return nil
		}
		logger.LogEvent(ctx, logger.Dispatch, slog.LevelWarn, "message.edit",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
	_, err := t.out.SendMessage(ctx, t.chatID, text, opts)
	return err
}

func (d *Dispatcher) handlePrompt(ctx context.Context, t *turn, email string) (result, error) {
	opts := telegram.SendOptions{HTML: true, Markup: keyboard.ConfirmDeactivate(email)}
	if err := editOrSend(ctx, t, confirmText(email), opts); err != nil {
		return result{}, err
	}
	if err := t.out.AnswerCallback(ctx, t.callbackID, ""); err != nil {
		return result{}, err
	}
	return result{outcome: "prompted", body: BodyOK}, nil
}

func (d *Dispatcher) handleConfirm(ctx context.Context, t *turn, email string) (result, error) {
	_, err := d.addresses.Deactivate(ctx, email, address.OwnerID(t.userID))
	switch {
	case errors.Is(err, address.ErrNotFound):
		return d.answerOnly(ctx, t, ackNotFound, "not_found")
	case errors.Is(err, address.ErrNotOwner):
		return d.answerOnly(ctx, t, ackNotOwner, "denied")
	case err != nil:
		return result{}, err
	}
	if err := t.out.AnswerCallback(ctx, t.callbackID, ackDeactivated); err != nil {
		return result{}, err
	}
	if err := editOrSend(ctx, t, deactivatedText(email), telegram.SendOptions{HTML: true}); err != nil {
		return result{}, err
	}
	return result{outcome: "deactivated", body: BodyOK}, nil
}

func (d *Dispatcher) handleCancel(ctx context.Context, t *turn) (result, error) {
	return d.answerOnly(ctx, t, ackCancelled, "cancelled")
}

func (d *Dispatcher) handleUnsupported(ctx context.Context, t *turn) (result, error) {
	return d.answerOnly(ctx, t, ackUnsupported, "unsupported")
}

func (d *Dispatcher) answerOnly(ctx context.Context, t *turn, text, outcome string) (result, error) {
	if err := t.out.AnswerCallback(ctx, t.callbackID, text); err != nil {
		return result{}, err
	}
	return result{outcome: outcome, body: BodyOK}, nil
}
