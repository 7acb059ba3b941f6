package inbound

import (
	"context"
	"fmt"
	"time"

	"feedbot/internal/eventbus"
	"feedbot/internal/notifier"
	logx "feedbot/pkg/logx"
)

// DefaultFarewell is sent to every subscriber when the consumer stops.
const DefaultFarewell = "Sorry, but I am going to sleep. See you later!"

// Dispatcher handles one raw update. An error is fatal for the consumer.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload []byte) error
}

// Broadcaster sends one text to many recipients.
type Broadcaster interface {
	Broadcast(ctx context.Context, recipients []int64, text string) notifier.Report
}

// SubscriberLister lists everyone holding a subscription.
type SubscriberLister interface {
	ListSubscribers(ctx context.Context) ([]int64, error)
}

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	Queue       *Queue
	Dispatcher  Dispatcher
	Notifier    Broadcaster
	Subscribers SubscriberLister
	// Farewell is broadcast on shutdown; "-" disables it.
	Farewell string
	// FarewellTimeout bounds the farewell broadcast (default 1m).
	FarewellTimeout time.Duration
	Log             logx.Logger
	Bus             eventbus.Bus
}

// Consumer drains the queue in FIFO order on a single goroutine.
type Consumer struct {
	q          *Queue
	dispatcher Dispatcher
	notifier   Broadcaster
	subs       SubscriberLister
	farewell   string
	farewellTO time.Duration
	log        logx.Logger
	bus        eventbus.Bus
}

func NewConsumer(opts ConsumerOptions) *Consumer {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	farewell := opts.Farewell
	if farewell == "" {
		farewell = DefaultFarewell
	}
	to := opts.FarewellTimeout
	if to <= 0 {
		to = time.Minute
	}
	return &Consumer{
		q:          opts.Queue,
		dispatcher: opts.Dispatcher,
		notifier:   opts.Notifier,
		subs:       opts.Subscribers,
		farewell:   farewell,
		farewellTO: to,
		log:        log.With(logx.String("comp", "consumer")),
		bus:        opts.Bus,
	}
}

// Run processes updates until ctx is cancelled, then drains what is left,
// says goodbye to every subscriber and returns nil. Storage or dispatch
// errors are returned as-is.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("consumer started")
	// In-flight work is never interrupted by cancellation.
	work := context.WithoutCancel(ctx)
	for c.q.Signal().Wait(ctx) {
		if err := c.Drain(work); err != nil {
			return err
		}
	}
	if err := c.Drain(work); err != nil {
		return err
	}
	c.sayFarewell(work)
	c.log.Info("consumer stopped")
	return nil
}

// Drain dispatches queued updates until the queue is empty, then clears the
// signal. The length is checked once more after clearing so an update
// enqueued in between is not left waiting.
func (c *Consumer) Drain(ctx context.Context) error {
	for {
		ev, ok, err := c.q.Pop(ctx)
		if err != nil {
			return fmt.Errorf("inbound: pop: %w", err)
		}
		if !ok {
			break
		}
		if err := c.dispatcher.Dispatch(ctx, ev.Payload); err != nil {
			return fmt.Errorf("inbound: dispatch update %d: %w", ev.ID, err)
		}
		eventbus.Emit(c.bus, eventbus.TypeInboundDispatched, ev.ID)
		c.log.Debug("update dispatched", logx.Int64("id", ev.ID), logx.Duration("queued", time.Since(ev.ReceivedAt)))
	}

	c.q.Signal().Clear()
	n, err := c.q.Len(ctx)
	if err != nil {
		return fmt.Errorf("inbound: len: %w", err)
	}
	if n > 0 {
		c.q.Signal().Set()
	}
	return nil
}

func (c *Consumer) sayFarewell(ctx context.Context) {
	if c.farewell == "-" || c.notifier == nil || c.subs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.farewellTO)
	defer cancel()
	ids, err := c.subs.ListSubscribers(ctx)
	if err != nil {
		c.log.Warn("farewell skipped", logx.Err(err))
		return
	}
	rep := c.notifier.Broadcast(ctx, ids, c.farewell)
	c.log.Info("farewell sent", logx.Int("delivered", rep.Delivered), logx.Int("total", rep.Total))
}
