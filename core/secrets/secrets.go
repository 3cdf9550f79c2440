// Package secrets looks up the Telegram bot credential. The value is fetched on
// every use so a rotated token is picked up without a restart.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/m3rciful/inboxbot/core/logger"
)

// KeyringService is the keyring service name secrets are stored under.
const KeyringService = "inboxbot"

// ErrNotFound is returned when the named secret does not exist or is empty.
var ErrNotFound = errors.New("secrets: not found")

// Provider resolves a named secret to its raw string value.
type Provider interface {
	Secret(ctx context.Context, name string) (string, error)
}

// Keyring reads secrets from the OS keyring.
type Keyring struct {
	Service string
}

// NewKeyring returns a keyring provider under KeyringService.
func NewKeyring() *Keyring {
	return &Keyring{Service: KeyringService}
}

func (k *Keyring) Secret(ctx context.Context, name string) (string, error) {
	v, err := keyring.Get(k.Service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		logger.LogEvent(ctx, logger.Secrets, slog.LevelError, "secret.get",
			slog.String("status", "fail"),
			slog.String("name", name),
			slog.String("err_code", "not_found"),
		)
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		logger.LogEvent(ctx, logger.Secrets, slog.LevelError, "secret.get",
			slog.String("status", "fail"),
			slog.String("name", name),
			slog.String("err", err.Error()),
		)
		return "", fmt.Errorf("keyring get %s: %w", name, err)
	}
	return v, nil
}

// Static serves one fixed value for every name. The env backend and tests use it.
type Static string

func (s Static) Secret(_ context.Context, name string) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return string(s), nil
}

type tokenPayload struct {
	BotToken string `json:"bot_token"`
}

// BotToken fetches name from p and extracts the bot token. The stored value is
// either a JSON object {"bot_token": "..."} or the bare token.
func BotToken(ctx context.Context, p Provider, name string) (string, error) {
	raw, err := p.Secret(ctx, name)
	if err != nil {
		return "", err
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var payload tokenPayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return "", fmt.Errorf("decode secret %s: %w", name, err)
		}
		raw = strings.TrimSpace(payload.BotToken)
	}
	if raw == "" {
		return "", fmt.Errorf("%s: bot_token: %w", name, ErrNotFound)
	}
	return raw, nil
}
