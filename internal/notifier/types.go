package notifier

import (
	"context"
	"time"
)

// Category classifies a delivery failure.
type Category string

const (
	CategoryNone         Category = ""
	CategoryUnauthorized Category = "unauthorized"
	CategoryNotFound     Category = "not_found"
	CategoryBlocked      Category = "blocked"
	CategoryRateLimited  Category = "rate_limited"
	CategoryTransport    Category = "transport"
	CategoryNetwork      Category = "network"
)

// Exhaustion is what happens once a category's retries are used up.
type Exhaustion int

const (
	// GiveUp abandons this message only.
	GiveUp Exhaustion = iota
	// DropRecipient removes every subscription of the recipient.
	DropRecipient
	// Fatal stops the whole process.
	Fatal
)

func (e Exhaustion) String() string {
	switch e {
	case DropRecipient:
		return "drop_recipient"
	case Fatal:
		return "fatal"
	default:
		return "give_up"
	}
}

// Rule is the retry budget of one category.
type Rule struct {
	Retries    int
	Backoff    time.Duration
	Exhaustion Exhaustion
}

// Policy maps categories to rules. Categories missing from the map use the
// transport rule.
type Policy map[Category]Rule

// DefaultPolicy returns the stock retry table.
func DefaultPolicy() Policy {
	return Policy{
		CategoryUnauthorized: {Retries: 0, Exhaustion: Fatal},
		CategoryNotFound:     {Retries: 1, Backoff: 5 * time.Second, Exhaustion: DropRecipient},
		CategoryBlocked:      {Retries: 3, Backoff: 10 * time.Second, Exhaustion: DropRecipient},
		CategoryRateLimited:  {Retries: 1, Backoff: 10 * time.Second, Exhaustion: GiveUp},
		CategoryTransport:    {Retries: 3, Backoff: 2 * time.Second, Exhaustion: GiveUp},
		CategoryNetwork:      {Retries: 1, Backoff: 5 * time.Second, Exhaustion: GiveUp},
	}
}

func (p Policy) rule(c Category) Rule {
	if r, ok := p[c]; ok {
		return r
	}
	if r, ok := p[CategoryTransport]; ok {
		return r
	}
	return Rule{Retries: 3, Backoff: 2 * time.Second}
}

// maxAttempts is one initial attempt plus the largest retry budget.
func (p Policy) maxAttempts() int {
	most := p.rule(CategoryTransport).Retries
	for _, r := range p {
		most = max(most, r.Retries)
	}
	return 1 + most
}

// Kind is the coarse result of one Send.
type Kind int

const (
	Delivered Kind = iota
	RetryableFailure
	PermanentFailure
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case RetryableFailure:
		return "retryable_failure"
	default:
		return "permanent_failure"
	}
}

// Outcome is the result of one Send call.
type Outcome struct {
	Kind     Kind
	Category Category
	Reason   string
	Attempts int
	// Dropped is set when the recipient was removed as unreachable.
	Dropped bool
}

func (o Outcome) OK() bool { return o.Kind == Delivered }

// Config controls a Notifier.
type Config struct {
	// Pause follows every send attempt (default 100ms; negative disables).
	Pause  time.Duration
	Policy Policy
	// MaxRetryAfter caps a server-provided retry-after for rate limits (default 40s).
	MaxRetryAfter time.Duration
	// RatePerSec caps outbound attempts across all callers (0 = unlimited).
	RatePerSec int
	// SendTimeout bounds a single transport call (default 30s).
	SendTimeout time.Duration
}

// Pruner removes an unreachable recipient.
type Pruner interface {
	DeleteSubscriber(ctx context.Context, subscriberID int64) (int64, error)
}

// Sender is the delivery capability used by the updater, consumer and bot.
type Sender interface {
	Send(ctx context.Context, recipient int64, text string) Outcome
}
