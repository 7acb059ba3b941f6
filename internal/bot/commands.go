package bot

import (
	"context"
	"fmt"
	"strings"

	"feedbot/internal/storage"
)

// HandlerFunc runs one command.
type HandlerFunc func(ctx context.Context, req *Request) error

// Command describes a chat command.
type Command struct {
	Name        string
	Usage       string
	Description string
	// Conversational commands stay usable while a feed is being added.
	Conversational bool
	Handle         HandlerFunc
}

// Request is one incoming chat message.
type Request struct {
	ChatID   int64
	FromID   int64
	Username string
	Text     string
	Command  string
	Args     []string
}

func (d *Dispatcher) commands() []Command {
	return []Command{
		{Name: "start", Description: "restart the bot", Conversational: true, Handle: d.cmdStart},
		{Name: "help", Description: "this message", Conversational: true, Handle: d.cmdHelp},
		{Name: "add", Description: "add a new web feed", Conversational: true, Handle: d.cmdAdd},
		{Name: "confirm", Description: "start tracking the feed", Conversational: true, Handle: d.cmdConfirm},
		{Name: "cancel", Description: "go to the beginning", Conversational: true, Handle: d.cmdCancel},
		{Name: "list", Description: "show list of your feeds", Handle: d.cmdList},
		{Name: "delete", Usage: "[feed]", Description: "delete a feed from your list", Handle: d.cmdDelete},
		{Name: "date", Usage: "[feed]", Description: "switch display of publication date in all posts from some feed", Handle: d.toggle(storage.FieldDate)},
		{Name: "summary", Usage: "[feed]", Description: "switch display of summary", Handle: d.toggle(storage.FieldSummary)},
		{Name: "link", Usage: "[feed]", Description: "switch display of a URL of feed's posts", Handle: d.toggle(storage.FieldLink)},
		{Name: "short", Usage: "[feed] [shortcut]", Description: fmt.Sprintf("make a %d character shortcut for a feed, or empty to clear it", storage.MaxLabelRunes), Handle: d.cmdShort},
	}
}

func helpText(cmds []Command) string {
	var b strings.Builder
	for _, c := range cmds {
		b.WriteString("/" + c.Name)
		if c.Usage != "" {
			b.WriteString(" " + c.Usage)
		}
		b.WriteString(" - " + c.Description + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseCommand splits "/cmd@bot arg1 arg2" into "cmd" and its arguments.
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), fields[1:], true
}
