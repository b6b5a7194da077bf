// Package metrics defines the Prometheus instruments of the bot core and the
// optional HTTP endpoint that exposes them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Update kinds.
const (
	KindText     = "text"
	KindCallback = "callback"
	KindOther    = "other"
)

// Dispatch outcomes.
const (
	OutcomeHandled  = "handled"
	OutcomeReply    = "reply"
	OutcomeFallback = "fallback"
	OutcomeDropped  = "dropped"
	OutcomeNotFound = "not_found"
	OutcomeDenied   = "denied"
	OutcomeBot      = "bot_discarded"
	OutcomeError    = "error"
)

// Pending wait operations.
const (
	PendingArmed    = "armed"
	PendingConsumed = "consumed"
	PendingInvalid  = "invalid"
)

var (
	// UpdatesTotal counts updates received from Telegram.
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botstarter_updates_total",
			Help: "Total number of updates received",
		},
		[]string{"kind"},
	)

	// DispatchTotal counts dispatch results.
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botstarter_dispatch_total",
			Help: "Total number of dispatched updates by outcome",
		},
		[]string{"kind", "outcome"},
	)

	// HandlerDuration observes handler execution time.
	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "botstarter_handler_duration_seconds",
			Help:    "Handler execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"kind"},
	)

	// PendingWaits counts reply-wait transitions.
	PendingWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botstarter_pending_waits_total",
			Help: "Reply-wait tokens armed, consumed or discarded as invalid",
		},
		[]string{"op"},
	)

	// TransportRetries counts Telegram calls retried after a timeout.
	TransportRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botstarter_transport_retries_total",
			Help: "Telegram API calls retried after a timeout",
		},
		[]string{"op", "result"}, // result: ok, fail
	)

	// RateLimited counts updates dropped by the rate limiter.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botstarter_rate_limited_total",
			Help: "Updates dropped by the per-user rate limit",
		},
		[]string{"kind"},
	)

	// PanicsTotal counts recovered handler panics.
	PanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botstarter_panics_total",
			Help: "Handler panics recovered by middleware",
		},
	)
)

// RecordDispatch records one dispatch result and its duration.
func RecordDispatch(kind, outcome string, took time.Duration) {
	DispatchTotal.WithLabelValues(kind, outcome).Inc()
	HandlerDuration.WithLabelValues(kind).Observe(took.Seconds())
}

// RecordRetry records the result of a retried transport call.
func RecordRetry(op string, err error) {
	result := "ok"
	if err != nil {
		result = "fail"
	}
	TransportRetries.WithLabelValues(op, result).Inc()
}
