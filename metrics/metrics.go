package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters. Everything here is advisory observability; no component
// reads these back to make decisions.
var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rugsobserver",
		Name:      "feed_events_total",
		Help:      "Upstream events received, by event name.",
	}, []string{"event"})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rugsobserver",
		Name:      "feed_reconnects_total",
		Help:      "Upstream reconnect attempts.",
	})

	RoundsTracked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rugsobserver",
		Name:      "rounds_tracked_total",
		Help:      "New rounds opened by the tracker.",
	})

	GodCandles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rugsobserver",
		Name:      "god_candles_total",
		Help:      "God candle anomalies detected.",
	})

	QualityFlags = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rugsobserver",
		Name:      "tick_quality_flags_total",
		Help:      "Advisory tick quality flags raised, by flag.",
	}, []string{"flag"})

	PersistErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rugsobserver",
		Name:      "persist_errors_total",
		Help:      "Store write failures, by operation category.",
	}, []string{"op"})

	FramesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rugsobserver",
		Name:      "frames_published_total",
		Help:      "Normalized frames handed to the broadcaster, by type.",
	}, []string{"type"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rugsobserver",
		Name:      "subscribers",
		Help:      "Downstream subscribers currently connected.",
	})

	SubscriberEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rugsobserver",
		Name:      "subscriber_evictions_total",
		Help:      "Subscribers evicted after a send error or timeout.",
	})

	VerifyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rugsobserver",
		Name:      "verify_outcomes_total",
		Help:      "Verification runs completed, by outcome.",
	}, []string{"outcome"})

	VerifyQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rugsobserver",
		Name:      "verify_queue_depth",
		Help:      "Verification tasks waiting for a worker.",
	})

	VerifyDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rugsobserver",
		Name:      "verify_dropped_total",
		Help:      "Verification tasks dropped because the queue was full.",
	})

	RelayErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rugsobserver",
		Name:      "relay_errors_total",
		Help:      "NATS mirror publish failures.",
	})
)
