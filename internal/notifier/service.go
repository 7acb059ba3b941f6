package notifier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"feedbot/internal/eventbus"
	rtsup "feedbot/internal/runtime/supervisor"
	kit "feedbot/internal/transport"
	logx "feedbot/pkg/logx"
)

// Notifier delivers one message to one recipient, retrying per category.
//
// Send blocks for the whole retry budget. It is safe for concurrent use.
type Notifier struct {
	sender kit.Sender
	pruner Pruner
	log    logx.Logger
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	// sleep is the cancellable wait used for pauses and backoffs.
	sleep func(ctx context.Context, d time.Duration) bool

	fatalMu   sync.Mutex
	onFatal   func(error)
	fatalOnce sync.Once
}

func New(cfg Config, sender kit.Sender, pruner Pruner, log logx.Logger, bus eventbus.Bus) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Pause == 0 {
		cfg.Pause = 100 * time.Millisecond
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = 40 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	n := &Notifier{
		sender: sender,
		pruner: pruner,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
		cfg:    cfg,
		sleep:  rtsup.Sleep,
	}
	if cfg.RatePerSec > 0 {
		n.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return n
}

// OnFatal installs the callback invoked (once) when the transport rejects
// the bot credentials.
func (n *Notifier) OnFatal(fn func(error)) {
	n.fatalMu.Lock()
	n.onFatal = fn
	n.fatalMu.Unlock()
}

func (n *Notifier) fatal(err error) {
	n.fatalMu.Lock()
	fn := n.onFatal
	n.fatalMu.Unlock()
	n.fatalOnce.Do(func() {
		n.log.Error("transport rejected credentials; stopping", logx.Err(err))
		if fn != nil {
			fn(err)
		}
	})
}

// Send delivers text to recipient. It never returns an error: the outcome
// tells the caller whether the message arrived and whether the recipient
// was dropped.
func (n *Notifier) Send(ctx context.Context, recipient int64, text string) Outcome {
	target := kit.ChatTarget{ChatID: recipient}
	opt := &kit.SendOptions{}

	var (
		category Category
		used     = map[Category]int{}
		attempts int
		lastErr  error
	)
	limit := n.cfg.Policy.maxAttempts()
	for {
		if n.limiter != nil {
			if err := n.limiter.Wait(ctx); err != nil {
				return n.finish(recipient, Outcome{Kind: RetryableFailure, Category: category, Reason: err.Error(), Attempts: attempts})
			}
		}

		attempts++
		callCtx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
		_, err := n.sender.SendText(callCtx, target, text, opt)
		cancel()
		paused := n.sleep(ctx, n.cfg.Pause)

		if err == nil {
			return n.finish(recipient, Outcome{Kind: Delivered, Attempts: attempts})
		}
		lastErr = err

		category = Classify(err)
		rule := n.cfg.Policy.rule(category)
		n.log.Debug("send attempt failed",
			logx.Int64("recipient", recipient),
			logx.String("category", string(category)),
			logx.Int("attempt", attempts),
			logx.Err(err),
		)

		if used[category] >= rule.Retries {
			return n.exhausted(ctx, recipient, rule, Outcome{Category: category, Reason: lastErr.Error(), Attempts: attempts}, lastErr)
		}
		// Mixed failures share one ceiling: no message gets more attempts
		// than the most generous category allows on its own.
		if attempts >= limit {
			return n.finish(recipient, Outcome{Kind: RetryableFailure, Category: category, Reason: lastErr.Error(), Attempts: attempts})
		}
		used[category]++

		wait := rule.Backoff
		if category == CategoryRateLimited {
			if ra := time.Duration(retryAfter(err)) * time.Second; ra > wait {
				wait = min(ra, n.cfg.MaxRetryAfter)
			}
		}
		if !paused || !n.sleep(ctx, wait) {
			return n.finish(recipient, Outcome{Kind: RetryableFailure, Category: category, Reason: "cancelled: " + lastErr.Error(), Attempts: attempts})
		}
	}
}

func (n *Notifier) exhausted(ctx context.Context, recipient int64, rule Rule, out Outcome, err error) Outcome {
	switch rule.Exhaustion {
	case Fatal:
		out.Kind = PermanentFailure
		n.fatal(err)
	case DropRecipient:
		out.Kind = PermanentFailure
		out.Dropped = true
		n.drop(ctx, recipient, out.Category)
	default:
		out.Kind = RetryableFailure
	}
	return n.finish(recipient, out)
}

// drop removes every subscription of recipient. It is idempotent and
// best-effort: a failure is logged and never retried.
func (n *Notifier) drop(ctx context.Context, recipient int64, category Category) {
	if n.pruner == nil {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	removed, err := n.pruner.DeleteSubscriber(dctx, recipient)
	if err != nil {
		n.log.Warn("drop recipient failed", logx.Int64("recipient", recipient), logx.String("category", string(category)), logx.Err(err))
		return
	}
	n.log.Warn("recipient dropped", logx.Int64("recipient", recipient), logx.String("category", string(category)), logx.Int64("subscriptions", removed))
}

func (n *Notifier) finish(recipient int64, out Outcome) Outcome {
	data := eventbus.NotifyData{Recipient: recipient, Category: string(out.Category), Attempts: out.Attempts}
	switch {
	case out.Kind == Delivered:
		eventbus.Emit(n.bus, eventbus.TypeNotifySent, data)
		if out.Attempts > 1 {
			n.log.Info("message delivered after retry", logx.Int64("recipient", recipient), logx.Int("attempts", out.Attempts))
		}
	case out.Dropped:
		eventbus.Emit(n.bus, eventbus.TypeNotifyDropped, data)
	default:
		eventbus.Emit(n.bus, eventbus.TypeNotifyFailed, data)
		if out.Category != CategoryUnauthorized {
			n.log.Warn("message not delivered",
				logx.Int64("recipient", recipient),
				logx.String("category", string(out.Category)),
				logx.String("outcome", out.Kind.String()),
				logx.Int("attempts", out.Attempts),
				logx.String("reason", out.Reason),
			)
		}
	}
	return out
}
