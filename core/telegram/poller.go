package telegram

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// AllowedUpdates lists the update kinds the dispatcher routes.
var AllowedUpdates = []string{"message", "callback_query"}

// WebhookOptions declares the public webhook endpoint.
type WebhookOptions struct {
	// URL is the public base URL, e.g. https://bot.example.org.
	URL string
	// Path is appended to URL unless URL already ends with it.
	Path        string
	SecretToken string
}

// PublicURL joins the base URL and path.
func (o WebhookOptions) PublicURL() string {
	base := strings.TrimRight(o.URL, "/")
	if o.Path == "" || o.Path == "/" || strings.HasSuffix(base, o.Path) {
		return base
	}
	return base + "/" + strings.TrimLeft(o.Path, "/")
}

// BuildWebhook returns the webhook registration Telegram should deliver updates to.
func BuildWebhook(opts WebhookOptions) *tele.Webhook {
	return &tele.Webhook{
		AllowedUpdates: AllowedUpdates,
		SecretToken:    opts.SecretToken,
		Endpoint:       &tele.WebhookEndpoint{PublicURL: opts.PublicURL()},
	}
}
