package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis errors by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// GuardDecisions counts Rate Guard outcomes by action kind.
	GuardDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_guard_decisions_total",
		Help: "Rate guard decisions by action and outcome",
	}, []string{"action", "outcome"})

	// ModerationDecisions counts applied moderation actions.
	ModerationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_moderation_decisions_total",
		Help: "Moderation decisions by action and source",
	}, []string{"action", "source"})

	// EventsEmitted counts domain events handed to the fan-out queue.
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_events_emitted_total",
		Help: "Domain events emitted by kind",
	}, []string{"kind"})

	// EventsDropped counts events the fan-out queue could not accept.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_events_dropped_total",
		Help: "Domain events dropped before fan-out by reason",
	}, []string{"reason"})

	// FanoutDeliveries counts per-recipient deliveries by channel and outcome.
	FanoutDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_fanout_deliveries_total",
		Help: "Notification deliveries by channel and outcome",
	}, []string{"channel", "outcome"})

	// FanoutRetries counts retry attempts made by the fan-out workers.
	FanoutRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_fanout_retries_total",
		Help: "Notification retry attempts by channel",
	}, []string{"channel"})

	// FanoutBatchLatency records how long one batch took to dispatch.
	FanoutBatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "threadline_fanout_batch_seconds",
		Help:    "Fan-out batch dispatch latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// AuditFailures counts audit sink failures.
	AuditFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_audit_failures_total",
		Help: "Audit sink failures by sink",
	}, []string{"sink"})

	// ThreadSubscribers is the gauge of live group subscriptions on this node.
	ThreadSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "threadline_thread_subscribers",
		Help: "Number of websocket connections joined to thread and moderation groups",
	})

	// BackpressureDrops counts realtime messages dropped due to full client buffers.
	BackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"reason"})
)

// TrackBatch returns a function that records batch latency when called (e.g. defer).
func TrackBatch() func() {
	start := time.Now()
	return func() {
		FanoutBatchLatency.Observe(time.Since(start).Seconds())
	}
}
