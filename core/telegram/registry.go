package telegram

import (
	"context"
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/inboxbot/core/logger"
	"github.com/m3rciful/inboxbot/core/telegram/commands"
)

// Registry holds bot commands in registration order.
type Registry struct {
	order    []string
	commands map[string]commands.Command
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]commands.Command)}
}

// RegisterCommand adds a new command. Names are lowercased and must start with '/'.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if r == nil || name == "" || cmd.Description == "" {
		logger.TG.LogAttrs(context.Background(), slog.LevelWarn, "register.command.skip",
			slog.String("name", name),
			slog.String("reason", "invalid"),
		)
		return false
	}
	if name[0] != '/' {
		logger.TG.LogAttrs(context.Background(), slog.LevelWarn, "register.command.skip",
			slog.String("name", name),
			slog.String("reason", "no_slash_prefix"),
		)
		return false
	}
	if _, exists := r.commands[name]; exists {
		logger.TG.LogAttrs(context.Background(), slog.LevelWarn, "register.command.duplicate",
			slog.String("name", name),
		)
		return false
	}
	r.commands[name] = cmd
	r.order = append(r.order, name)
	return true
}

// ListCommands returns the menu entries in registration order, optionally without hidden ones.
// Telegram wants menu commands without the leading slash.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	var list []tele.Command
	for _, name := range r.order {
		meta := r.commands[name]
		if visibleOnly && meta.Hidden {
			continue
		}
		list = append(list, tele.Command{Text: strings.TrimPrefix(name, "/"), Description: meta.Description})
	}
	return list
}

// LookupCommand searches for a command by name or its aliases and returns the canonical key with metadata if found.
func (r *Registry) LookupCommand(name string) (string, commands.Command, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	if cmd, ok := r.commands[name]; ok {
		return name, cmd, true
	}
	for _, key := range r.order {
		cmd := r.commands[key]
		for _, alias := range cmd.Aliases {
			if alias == name || "/"+alias == name {
				return key, cmd, true
			}
		}
	}
	return "", commands.Command{}, false
}

// Match resolves text to a registered command. An exact name or alias in the first
// word wins; otherwise the first registered name or alias that prefixes text is used.
// Matching is case-insensitive and ignores surrounding whitespace, so "/NEW",
// "/new@SomeBot" and "/newest" all resolve to "/new".
func (r *Registry) Match(text string) (string, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return "", false
	}
	if fields := strings.Fields(text); strings.HasPrefix(fields[0], "/") {
		name, _, _ := strings.Cut(fields[0], "@")
		if key, _, ok := r.LookupCommand(name); ok {
			return key, true
		}
	}
	for _, key := range r.order {
		if strings.HasPrefix(text, key) {
			return key, true
		}
		for _, alias := range r.commands[key].Aliases {
			if !strings.HasPrefix(alias, "/") {
				alias = "/" + alias
			}
			if strings.HasPrefix(text, strings.ToLower(alias)) {
				return key, true
			}
		}
	}
	return "", false
}
