package dispatch

import (
	"strings"

	"github.com/m3rciful/inboxbot/core/address"
	"github.com/m3rciful/inboxbot/core/telegram/format"
)

// User-facing texts.
const (
	msgWelcome        = "Welcome! Use /new to create a new email address, or /list to view addresses."
	msgUnknown        = "Unknown command. Use /new or /list."
	msgNoAddresses    = "You have no addresses. Use /new to create one."
	msgExhausted      = "Could not allocate a new address right now, please try again."
	ackCancelled      = "Cancelled"
	ackDeactivated    = "Deactivated"
	ackNotFound       = "Address not found"
	ackNotOwner       = "You can only deactivate your own addresses"
	ackUnsupported    = "Unsupported action"
	lastEmailFallback = "never"
)

func createdText(email string) string {
	return "✅ Created address: " + format.Bold(email) + "\n\n" +
		"Forward emails you want summarized to this address.\n\n" +
		"Use /list to see and manage your addresses."
}

func confirmText(email string) string {
	return "Deactivate " + format.Bold(email) + "?\n\nMail sent to it will no longer be forwarded."
}

func deactivatedText(email string) string {
	return "🚫 Deactivated " + format.Bold(email) + "."
}

func listLine(rec address.Record) string {
	state := "inactive"
	if rec.Active {
		state = "active"
	}
	return rec.EmailAddress + " — " + state + " — last: " + format.DerefString(rec.LastEmailAt, lastEmailFallback)
}

func listText(recs []address.Record) string {
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, listLine(r))
	}
	return strings.Join(lines, "\n")
}

func activeEmails(recs []address.Record) []string {
	var out []string
	for _, r := range recs {
		if r.Active {
			out = append(out, r.EmailAddress)
		}
	}
	return out
}
