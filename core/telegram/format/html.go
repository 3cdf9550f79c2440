package format

import "html"

// EscapeHTML escapes text for Telegram's HTML parse mode.
func EscapeHTML(text string) string {
	return html.EscapeString(text)
}

// Bold wraps escaped text in <b> tags.
func Bold(text string) string {
	return "<b>" + EscapeHTML(text) + "</b>"
}
