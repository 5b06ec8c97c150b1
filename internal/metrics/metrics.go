// Package metrics exposes prometheus collectors for the guestbook feed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guestbook_messages_submitted_total",
		Help: "Messages accepted and durably persisted.",
	})

	MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guestbook_messages_deleted_total",
		Help: "Messages permanently removed by authorized deletes.",
	})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guestbook_feed_publish_failures_total",
		Help: "Broadcast publishes that failed after a successful commit.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guestbook_feed_events_dropped_total",
		Help: "Events dropped for slow subscribers (delivery is best-effort).",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guestbook_feed_subscribers",
		Help: "Live feed stream subscribers.",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guestbook_submissions_rate_limited_total",
		Help: "Submissions rejected by the rate limiter.",
	})
)
