// Package bot turns chat updates into subscription management commands.
package bot

import (
	"context"
	"fmt"
	"slices"
	"time"

	"feedbot/internal/feed"
	"feedbot/internal/notifier"
	"feedbot/internal/storage"
	"feedbot/internal/transport/telegram/adapter"
	logx "feedbot/pkg/logx"
)

// Store is the subscription storage used by commands.
type Store interface {
	AddSubscription(ctx context.Context, sub storage.Subscription) (storage.Subscription, error)
	GetSubscription(ctx context.Context, subscriberID int64, feedURL string) (storage.Subscription, error)
	ListSubscriberSubscriptions(ctx context.Context, subscriberID int64) ([]storage.Subscription, error)
	DeleteSubscription(ctx context.Context, subscriberID int64, feedURL string) error
	DeleteSubscriber(ctx context.Context, subscriberID int64) (int64, error)
	ToggleDisplay(ctx context.Context, subscriberID int64, feedURL string, field storage.DisplayField) (bool, error)
	SetLabel(ctx context.Context, subscriberID int64, feedURL, label string) error
	RecordDelivery(ctx context.Context, id int64, lastCheck time.Time, digests []string, limit int) error
}

// Validator checks a feed before it is subscribed to and returns its top post.
type Validator interface {
	Validate(ctx context.Context, url string) (feed.Post, error)
}

// Options configures a Dispatcher.
type Options struct {
	Store     Store
	Feeds     Validator
	Notifier  notifier.Sender
	Formatter feed.Formatter
	// Sessions defaults to a fresh map.
	Sessions *Sessions
	// AllowedUserIDs restricts the bot to these senders when non-empty.
	AllowedUserIDs []int64
	DigestWindow   int
	Log            logx.Logger
}

// Dispatcher routes decoded updates to commands. Replies go through the
// notifier, so they share the delivery retry policy.
type Dispatcher struct {
	store    Store
	feeds    Validator
	notifier notifier.Sender
	format   feed.Formatter
	sessions *Sessions
	allowed  []int64
	window   int
	log      logx.Logger

	cmds  map[string]Command
	help  string
	greet string
}

func New(opts Options) *Dispatcher {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		store:    opts.Store,
		feeds:    opts.Feeds,
		notifier: opts.Notifier,
		format:   opts.Formatter,
		sessions: opts.Sessions,
		allowed:  opts.AllowedUserIDs,
		window:   opts.DigestWindow,
		log:      log.With(logx.String("comp", "bot")),
		cmds:     map[string]Command{},
	}
	if d.sessions == nil {
		d.sessions = NewSessions()
	}
	if d.window <= 0 {
		d.window = storage.MaxDigests
	}
	list := d.commands()
	for _, c := range list {
		d.cmds[c.Name] = c
	}
	d.help = helpText(list)
	d.greet = "Use /add command. I will check your web feed from time to time and notify when something new comes up."
	return d
}

// Sessions exposes the conversation state.
func (d *Dispatcher) Sessions() *Sessions { return d.sessions }

// Dispatch handles one raw update. Malformed or irrelevant updates are
// skipped; an error means storage failed while serving a command.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) error {
	u, err := adapter.DecodeUpdate(payload)
	if err != nil {
		d.log.Warn("undecodable update skipped", logx.Err(err))
		return nil
	}
	m := u.Message
	if m == nil || m.Chat == nil || m.Text == "" {
		return nil
	}
	req := &Request{ChatID: m.Chat.ID, Text: m.Text, Username: m.Chat.Username}
	if m.Sender != nil {
		req.FromID = m.Sender.ID
		if req.Username == "" {
			req.Username = m.Sender.Username
		}
	}

	if len(d.allowed) > 0 && !slices.Contains(d.allowed, req.FromID) {
		d.log.Warn("message from unknown user ignored", logx.Int64("from", req.FromID))
		d.reply(ctx, req, "Sorry, this bot is private.")
		return nil
	}

	name, args, isCmd := parseCommand(m.Text)
	req.Command, req.Args = name, args

	var handle HandlerFunc
	switch cmd, ok := d.cmds[name]; {
	case !isCmd:
		handle = d.onText
	case !ok:
		handle = d.cmdHelp
	case !cmd.Conversational && d.awaiting(req.ChatID):
		handle = d.goBack
	default:
		handle = cmd.Handle
	}

	if err := handle(ctx, req); err != nil {
		d.reply(ctx, req, "Something went wrong. Please notify the bot operator about this.")
		return fmt.Errorf("bot: /%s: %w", name, err)
	}
	return nil
}

func (d *Dispatcher) awaiting(chatID int64) bool {
	s, ok := d.sessions.Get(chatID)
	return ok && s.AwaitingURL
}

func (d *Dispatcher) reply(ctx context.Context, req *Request, text string) {
	if out := d.notifier.Send(ctx, req.ChatID, text); !out.OK() {
		d.log.Warn("reply not delivered", logx.Int64("chat", req.ChatID), logx.String("category", string(out.Category)))
	}
}

func (d *Dispatcher) goBack(ctx context.Context, req *Request) error {
	d.reply(ctx, req, "You can use /cancel to go back.")
	return nil
}
