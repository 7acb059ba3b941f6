package eventbus

import "time"

// Event types.
const (
	TypeNotifySent    = "notifier.sent"
	TypeNotifyFailed  = "notifier.failed"
	TypeNotifyDropped = "notifier.dropped"

	TypeCycleDone  = "updater.cycle"
	TypeFeedFailed = "feed.load_failed"

	TypeInboundEnqueued   = "inbound.enqueued"
	TypeInboundDispatched = "inbound.dispatched"
	TypeWebhookRejected   = "webhook.rejected"
)

// NotifyData is attached to notifier.* events.
type NotifyData struct {
	Recipient int64
	Category  string
	Attempts  int
}

// CycleData is attached to updater.cycle.
type CycleData struct {
	Subscriptions int
	Delivered     int
	LoadFailures  int
	Took          time.Duration
}

// FeedData is attached to feed.load_failed.
type FeedData struct {
	URL string
}

// WebhookData is attached to webhook.rejected.
type WebhookData struct {
	Origin string
	Reason string
}
