package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"feedbot/internal/feed"
	"feedbot/internal/storage"
	logx "feedbot/pkg/logx"
)

const noSuchFeed = "No such web feed found. Check for errors."

func (d *Dispatcher) cmdStart(ctx context.Context, req *Request) error {
	d.sessions.Delete(req.ChatID)
	if _, err := d.store.DeleteSubscriber(ctx, req.ChatID); err != nil {
		return err
	}
	hello := "Hello!"
	if req.Username != "" {
		hello = fmt.Sprintf("Hello, @%s!", req.Username)
	}
	d.reply(ctx, req, hello)
	d.reply(ctx, req, d.greet)
	return nil
}

func (d *Dispatcher) cmdHelp(ctx context.Context, req *Request) error {
	d.reply(ctx, req, d.help)
	return nil
}

func (d *Dispatcher) cmdAdd(ctx context.Context, req *Request) error {
	if d.awaiting(req.ChatID) {
		return d.goBack(ctx, req)
	}
	d.sessions.Put(req.ChatID, Session{AwaitingURL: true})
	d.reply(ctx, req, "Send me a URI of your web feed. I'll check it out.")
	return nil
}

func (d *Dispatcher) cmdCancel(ctx context.Context, req *Request) error {
	d.sessions.Delete(req.ChatID)
	d.reply(ctx, req, "Cancelled.")
	return nil
}

func (d *Dispatcher) cmdConfirm(ctx context.Context, req *Request) error {
	s, ok := d.sessions.Get(req.ChatID)
	switch {
	case !ok || !s.AwaitingURL:
		d.reply(ctx, req, "Use /add command first.")
		return nil
	case s.Candidate == "":
		return d.goBack(ctx, req)
	}

	sub, err := d.store.AddSubscription(ctx, storage.Subscription{
		SubscriberID: req.ChatID,
		FeedURL:      s.Candidate,
		Display:      storage.DefaultDisplay(),
	})
	d.sessions.Delete(req.ChatID)
	if errors.Is(err, storage.ErrExists) {
		d.reply(ctx, req, "I already watch this feed for you!")
		return nil
	}
	if err != nil {
		return err
	}
	gone, err := d.sendTopPost(ctx, sub, s.Top)
	if err != nil {
		return err
	}
	if gone {
		return nil
	}
	d.reply(ctx, req, "New web feed added!")
	return nil
}

// sendTopPost delivers the newest post of a fresh subscription and starts
// its dedup state from it. Display parts the feed does not provide are
// switched off. gone reports that the subscription vanished meanwhile,
// usually because the notifier dropped an unreachable subscriber.
func (d *Dispatcher) sendTopPost(ctx context.Context, sub storage.Subscription, top feed.Post) (gone bool, err error) {
	vanished := func(err error) (bool, error) {
		if errors.Is(err, storage.ErrNotFound) {
			d.log.Info("subscription vanished before the top post", logx.Int64("subscriber", sub.SubscriberID), logx.String("url", sub.FeedURL))
			return true, nil
		}
		return false, err
	}

	r := d.format.Render(top, sub.Display)
	for _, missing := range []struct {
		on    bool
		field storage.DisplayField
	}{
		{r.MissingSummary, storage.FieldSummary},
		{r.MissingLink, storage.FieldLink},
	} {
		if !missing.on {
			continue
		}
		if _, err := d.store.ToggleDisplay(ctx, sub.SubscriberID, sub.FeedURL, missing.field); err != nil {
			return vanished(err)
		}
	}

	out := d.notifier.Send(ctx, sub.SubscriberID, r.Text)
	if out.Dropped {
		d.log.Info("subscriber unreachable, top post skipped", logx.Int64("subscriber", sub.SubscriberID), logx.String("category", string(out.Category)))
		return true, nil
	}
	if !out.OK() {
		d.log.Warn("top post not delivered", logx.Int64("subscriber", sub.SubscriberID), logx.String("url", sub.FeedURL))
	}
	if err := d.store.RecordDelivery(ctx, sub.ID, top.PublishedAt, []string{top.Digest()}, d.window); err != nil {
		return vanished(err)
	}
	return false, nil
}

func (d *Dispatcher) onText(ctx context.Context, req *Request) error {
	s, ok := d.sessions.Get(req.ChatID)
	if !ok || !s.AwaitingURL {
		return d.cmdHelp(ctx, req)
	}
	url := strings.TrimSpace(req.Text)

	_, err := d.store.GetSubscription(ctx, req.ChatID, url)
	if err == nil {
		d.reply(ctx, req, "I already watch this feed for you!")
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	top, err := d.feeds.Validate(ctx, url)
	if err != nil {
		d.log.Info("feed validation failed", logx.String("url", url), logx.Err(err))
		d.reply(ctx, req, "Can't read the feed. Check for errors or try again later.")
		return nil
	}
	d.sessions.Put(req.ChatID, Session{AwaitingURL: true, Candidate: url, Top: top})
	d.reply(ctx, req, "All is fine, I managed to read the feed! Use the /confirm command to complete.")
	return nil
}

func (d *Dispatcher) cmdList(ctx context.Context, req *Request) error {
	subs, err := d.store.ListSubscriberSubscriptions(ctx, req.ChatID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		d.reply(ctx, req, "There is none!")
		return nil
	}
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	var b strings.Builder
	for i, s := range subs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.FeedURL)
		if s.Display.Label != "" {
			fmt.Fprintf(&b, "\tshortcut: %s\n", s.Display.Label)
		}
		if !s.LastCheck.IsZero() {
			fmt.Fprintf(&b, "\tlast update: %s\n", s.LastCheck.Format(feed.TimeFormat))
		}
		fmt.Fprintf(&b, "\tsummary: %s, date: %s, link: %s\n\n",
			onOff(s.Display.Summary), onOff(s.Display.Date), onOff(s.Display.Link))
	}
	b.WriteString("To delete an entry use: /delete [feed]")
	d.reply(ctx, req, b.String())
	return nil
}

func (d *Dispatcher) cmdDelete(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return d.cmdHelp(ctx, req)
	}
	err := d.store.DeleteSubscription(ctx, req.ChatID, req.Args[0])
	if errors.Is(err, storage.ErrNotFound) {
		d.reply(ctx, req, noSuchFeed)
		return nil
	}
	if err != nil {
		return err
	}
	d.reply(ctx, req, "Done.")
	return nil
}

func (d *Dispatcher) toggle(field storage.DisplayField) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if len(req.Args) != 1 {
			return d.cmdHelp(ctx, req)
		}
		on, err := d.store.ToggleDisplay(ctx, req.ChatID, req.Args[0], field)
		if errors.Is(err, storage.ErrNotFound) {
			d.reply(ctx, req, noSuchFeed)
			return nil
		}
		if err != nil {
			return err
		}
		state := "off"
		if on {
			state = "on"
		}
		d.reply(ctx, req, fmt.Sprintf("Done. %s display is %s.", field, state))
		return nil
	}
}

func (d *Dispatcher) cmdShort(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		return d.cmdHelp(ctx, req)
	}
	label := strings.Join(req.Args[1:], " ")
	err := d.store.SetLabel(ctx, req.ChatID, req.Args[0], label)
	switch {
	case errors.Is(err, storage.ErrLabelTooLong):
		d.reply(ctx, req, fmt.Sprintf("The shortcut is too long, keep it within %d characters.", storage.MaxLabelRunes))
		return nil
	case errors.Is(err, storage.ErrNotFound):
		d.reply(ctx, req, noSuchFeed)
		return nil
	case err != nil:
		return err
	}
	if label == "" {
		d.reply(ctx, req, "Shortcut cleared.")
		return nil
	}
	d.reply(ctx, req, "Done.")
	return nil
}
