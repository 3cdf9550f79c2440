package commands

// Command describes a slash command: how it is matched and how it is shown in
// the bot menu. Handlers are bound by the dispatcher.
type Command struct {
	Description string
	Hidden      bool
	Aliases     []string
}
