package keyboard

import (
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/inboxbot/core/telegram/callbacks"
)

// InlineBtn describes a convenience wrapper for inline button properties.
// Data is sent verbatim as callback_data.
type InlineBtn struct {
	Text string
	Data string
}

const (
	defaultCancelButtonText  = "❌ Cancel"
	defaultConfirmButtonText = "Confirm"
)

// ActionBtn builds a button carrying a callback action.
func ActionBtn(text string, a callbacks.Action) InlineBtn {
	return InlineBtn{Text: text, Data: a.Data()}
}

// InlineButtons builds an inline keyboard where each provided button is placed on its own row.
func InlineButtons(buttons []InlineBtn) *tele.ReplyMarkup {
	rows := make([][]InlineBtn, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []InlineBtn{b})
	}
	return InlineButtonsRows(rows...)
}

// InlineButtonsRows builds an inline keyboard from rows of InlineBtn.
// Buttons carry no telebot unique prefix, so callback_data stays "<action>|<arg>".
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	inline := make([][]tele.InlineButton, len(rows))
	for i, row := range rows {
		r := make([]tele.InlineButton, len(row))
		for j, btn := range row {
			r[j] = tele.InlineButton{Text: btn.Text, Data: btn.Data}
		}
		inline[i] = r
	}
	return &tele.ReplyMarkup{InlineKeyboard: inline}
}

// DeactivateList renders one "Deactivate <addr>" button per address.
// Addresses whose confirm payload would not fit in callback data get no button.
// It returns nil when there is nothing to deactivate.
func DeactivateList(emails []string) *tele.ReplyMarkup {
	if len(emails) == 0 {
		return nil
	}
	buttons := make([]InlineBtn, 0, len(emails))
	for _, e := range emails {
		if len(callbacks.ConfirmDeactivate{Email: e}.Data()) > callbacks.MaxDataLen {
			continue
		}
		buttons = append(buttons, ActionBtn("Deactivate "+e, callbacks.Deactivate{Email: e}))
	}
	if len(buttons) == 0 {
		return nil
	}
	return InlineButtons(buttons)
}

// ConfirmDeactivate renders the Confirm/Cancel pair for email on a single row.
func ConfirmDeactivate(email string) *tele.ReplyMarkup {
	return InlineButtonsRows([]InlineBtn{
		ActionBtn(defaultConfirmButtonText, callbacks.ConfirmDeactivate{Email: email}),
		ActionBtn(defaultCancelButtonText, callbacks.CancelDeactivate{}),
	})
}

// HasButtons reports whether m carries at least one inline button.
func HasButtons(m *tele.ReplyMarkup) bool {
	if m == nil {
		return false
	}
	for _, row := range m.InlineKeyboard {
		if len(row) > 0 {
			return true
		}
	}
	return false
}
