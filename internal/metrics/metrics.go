// Package metrics exposes Prometheus metrics fed from the event bus.
package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedbot/internal/eventbus"
)

// Collector owns a registry and the bot's metrics.
type Collector struct {
	reg *prometheus.Registry

	notifications  *prometheus.CounterVec
	cycles         prometheus.Counter
	cycleDuration  prometheus.Histogram
	postsDelivered prometheus.Counter
	subscriptions  prometheus.Gauge
	feedFailures   prometheus.Counter
	inboundIn      prometheus.Counter
	inboundOut     prometheus.Counter
	webhookRejects *prometheus.CounterVec

	busOnce sync.Once
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedbot_notifications_total",
			Help: "Outbound messages by result and failure category",
		}, []string{"result", "category"}),
		cycles: f.NewCounter(prometheus.CounterOpts{
			Name: "feedbot_update_cycles_total",
			Help: "Completed update cycles",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedbot_update_cycle_duration_seconds",
			Help:    "Duration of update cycles",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		postsDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "feedbot_posts_delivered_total",
			Help: "Feed posts delivered to subscribers",
		}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "feedbot_subscriptions",
			Help: "Subscriptions seen by the last update cycle",
		}),
		feedFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "feedbot_feed_load_failures_total",
			Help: "Feeds that failed to load",
		}),
		inboundIn: f.NewCounter(prometheus.CounterOpts{
			Name: "feedbot_inbound_enqueued_total",
			Help: "Updates accepted by the webhook",
		}),
		inboundOut: f.NewCounter(prometheus.CounterOpts{
			Name: "feedbot_inbound_dispatched_total",
			Help: "Updates handed to the dispatcher",
		}),
		webhookRejects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedbot_webhook_rejected_total",
			Help: "Rejected webhook requests by reason",
		}, []string{"reason"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Run records events from bus until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	c.busOnce.Do(func() {
		c.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "feedbot_events_dropped_total",
			Help: "Events lost to slow observers",
		}, func() float64 { return float64(bus.Dropped()) }))
	})
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(e)
		}
	}
}

// Observe records one event.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeNotifySent, eventbus.TypeNotifyFailed, eventbus.TypeNotifyDropped:
		d, _ := e.Data.(eventbus.NotifyData)
		result := "sent"
		switch e.Type {
		case eventbus.TypeNotifyFailed:
			result = "failed"
		case eventbus.TypeNotifyDropped:
			result = "dropped"
		}
		c.notifications.WithLabelValues(result, d.Category).Inc()
	case eventbus.TypeCycleDone:
		d, _ := e.Data.(eventbus.CycleData)
		c.cycles.Inc()
		c.cycleDuration.Observe(d.Took.Seconds())
		c.postsDelivered.Add(float64(d.Delivered))
		c.subscriptions.Set(float64(d.Subscriptions))
	case eventbus.TypeFeedFailed:
		c.feedFailures.Inc()
	case eventbus.TypeInboundEnqueued:
		c.inboundIn.Inc()
	case eventbus.TypeInboundDispatched:
		c.inboundOut.Inc()
	case eventbus.TypeWebhookRejected:
		d, _ := e.Data.(eventbus.WebhookData)
		c.webhookRejects.WithLabelValues(d.Reason).Inc()
	}
}
