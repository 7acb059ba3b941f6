package updater

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"

	"feedbot/internal/eventbus"
	"feedbot/internal/feed"
	"feedbot/internal/notifier"
	rtsup "feedbot/internal/runtime/supervisor"
	"feedbot/internal/storage"
	logx "feedbot/pkg/logx"
)

// Store is the persistence the scheduler needs.
type Store interface {
	ListSubscriptions(ctx context.Context) ([]storage.Subscription, error)
	ListSubscribers(ctx context.Context) ([]int64, error)
	RecordDelivery(ctx context.Context, id int64, lastCheck time.Time, digests []string, limit int) error
}

// Fetcher loads a feed, newest post first.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]feed.Post, error)
}

// Notifier delivers messages to subscribers.
type Notifier interface {
	notifier.Sender
	Broadcast(ctx context.Context, recipients []int64, text string) notifier.Report
}

// Options configures a Scheduler.
type Options struct {
	Store     Store
	Fetcher   Fetcher
	Notifier  Notifier
	Formatter feed.Formatter
	// Schedule decides when the next cycle starts (default every hour).
	Schedule cron.Schedule
	// DigestWindow bounds the recent-digest list (default storage.MaxDigests).
	DigestWindow int
	// NotificationsFile holds operator announcements broadcast once at start.
	NotificationsFile string
	Log               logx.Logger
	Bus               eventbus.Bus
}

// Scheduler runs update cycles over every subscription.
type Scheduler struct {
	store    Store
	fetcher  Fetcher
	notifier Notifier
	format   feed.Formatter
	schedule cron.Schedule
	window   int
	notes    string
	log      logx.Logger
	bus      eventbus.Bus

	now func() time.Time
}

// CycleReport summarizes one RunCycle.
type CycleReport struct {
	Subscriptions int
	Delivered     int
	// Failed counts posts whose delivery was abandoned.
	Failed       int
	LoadFailures int
	// Errors counts subscriptions skipped because of an unexpected failure.
	Errors  int
	Dropped int
	Took    time.Duration
}

func New(opts Options) *Scheduler {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	sched := opts.Schedule
	if sched == nil {
		sched = cron.Every(time.Hour)
	}
	window := opts.DigestWindow
	if window <= 0 {
		window = storage.MaxDigests
	}
	return &Scheduler{
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		notifier: opts.Notifier,
		format:   opts.Formatter,
		schedule: sched,
		window:   window,
		notes:    opts.NotificationsFile,
		log:      log.With(logx.String("comp", "updater")),
		bus:      opts.Bus,
		now:      time.Now,
	}
}

// Run broadcasts pending announcements, then runs a cycle on every schedule
// tick until ctx is cancelled. It returns nil on cancellation and an error
// only when the subscriptions cannot be listed.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("updater started")
	if err := s.sendNotifications(ctx); err != nil {
		s.log.Warn("startup notifications failed", logx.String("path", s.notes), logx.Err(err))
	}
	for {
		if _, err := s.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		next := s.schedule.Next(s.now())
		s.log.Debug("next update cycle", logx.Time("at", next))
		if !rtsup.SleepUntil(ctx, next) {
			break
		}
	}
	s.log.Info("updater stopped")
	return nil
}

// subState tracks per-subscriber facts within one cycle.
type subState struct {
	dropped map[int64]bool
}

// RunCycle checks every subscription once. A failure in one subscription
// never affects the others.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	start := s.now()
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return CycleReport{}, fmt.Errorf("updater: list subscriptions: %w", err)
	}

	rep := CycleReport{Subscriptions: len(subs)}
	st := subState{dropped: map[int64]bool{}}
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		if st.dropped[sub.SubscriberID] {
			continue
		}
		if err := s.checkSubscription(ctx, sub, &rep, &st); err != nil {
			rep.Errors++
			s.log.Error("subscription check failed",
				logx.Int64("subscriber", sub.SubscriberID),
				logx.String("url", sub.FeedURL),
				logx.Err(err),
			)
		}
	}
	rep.Took = s.now().Sub(start)

	s.log.Info("update cycle finished",
		logx.Int("subscriptions", rep.Subscriptions),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Int("load_failures", rep.LoadFailures),
		logx.Int("errors", rep.Errors),
		logx.Int("dropped", rep.Dropped),
		logx.Duration("took", rep.Took),
	)
	eventbus.Emit(s.bus, eventbus.TypeCycleDone, eventbus.CycleData{
		Subscriptions: rep.Subscriptions,
		Delivered:     rep.Delivered,
		LoadFailures:  rep.LoadFailures,
		Took:          rep.Took,
	})
	return rep, nil
}

func (s *Scheduler) checkSubscription(ctx context.Context, sub storage.Subscription, rep *CycleReport, st *subState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Debug("subscription panic stack", logx.String("stack", string(debug.Stack())))
		}
	}()

	posts, err := s.fetcher.Fetch(ctx, sub.FeedURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		rep.LoadFailures++
		s.loadFailed(ctx, sub, err, rep, st)
		return nil
	}

	fresh := NewPosts(posts, sub.LastCheck, sub.RecentDigests)
	if len(fresh) == 0 {
		return nil
	}

	var (
		delivered []feed.Post
		newest    = sub.LastCheck
	)
	for _, p := range fresh {
		if ctx.Err() != nil {
			break
		}
		out := s.notifier.Send(ctx, sub.SubscriberID, s.format.Render(p, sub.Display).Text)
		if out.OK() {
			delivered = append(delivered, p)
			if p.PublishedAt.After(newest) {
				newest = p.PublishedAt
			}
			continue
		}
		rep.Failed++
		if out.Dropped {
			rep.Dropped++
			st.dropped[sub.SubscriberID] = true
			// The subscription row is gone with the subscriber.
			return nil
		}
		if out.Kind == notifier.PermanentFailure {
			break
		}
	}
	if len(delivered) == 0 {
		return nil
	}
	rep.Delivered += len(delivered)

	digests := PrependDigests(sub.RecentDigests, delivered, s.window)
	// Persist even when ctx is cancelled: these posts already reached the subscriber.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.RecordDelivery(pctx, sub.ID, newest, digests, s.window); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	s.log.Debug("posts delivered",
		logx.Int64("subscriber", sub.SubscriberID),
		logx.String("url", sub.FeedURL),
		logx.Int("count", len(delivered)),
		logx.Time("last_check", newest),
	)
	return nil
}

func (s *Scheduler) loadFailed(ctx context.Context, sub storage.Subscription, err error, rep *CycleReport, st *subState) {
	s.log.Warn("feed load failed",
		logx.Int64("subscriber", sub.SubscriberID),
		logx.String("url", sub.FeedURL),
		logx.Err(err),
	)
	eventbus.Emit(s.bus, eventbus.TypeFeedFailed, eventbus.FeedData{URL: sub.FeedURL})

	text := fmt.Sprintf("Failed to load %s: not accessible.\nTechnical details:\n%v", sub.FeedURL, err)
	if out := s.notifier.Send(ctx, sub.SubscriberID, text); out.Dropped {
		rep.Dropped++
		st.dropped[sub.SubscriberID] = true
	}
}
