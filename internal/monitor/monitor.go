package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Broker Metrics
var (
	BrokerSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "inkwell",
		Subsystem: "broker",
		Name:      "subscriptions",
		Help:      "Number of currently registered subscriptions",
	})

	BrokerPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inkwell",
		Subsystem: "broker",
		Name:      "published_total",
		Help:      "Total number of data envelopes published",
	})

	BrokerDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inkwell",
		Subsystem: "broker",
		Name:      "dropped_total",
		Help:      "Total number of envelopes dropped due to slow subscribers",
	})

	BrokerReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inkwell",
		Subsystem: "broker",
		Name:      "replayed_total",
		Help:      "Total number of envelopes re-delivered during replay",
	})
)

// CoAuthor Queue Metrics
var (
	QueueActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "inkwell",
		Subsystem: "coauthor",
		Name:      "active_sessions",
		Help:      "Number of sections with an active co-authoring session",
	})

	QueueDispositionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inkwell",
		Subsystem: "coauthor",
		Name:      "dispositions_total",
		Help:      "Total number of queue admission dispositions by outcome",
	}, []string{"outcome"})
)

// Rate Limiter Metrics
var (
	RateLimitAllowedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inkwell",
		Subsystem: "ratelimit",
		Name:      "allowed_total",
		Help:      "Total number of admission checks that passed",
	})

	RateLimitDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inkwell",
		Subsystem: "ratelimit",
		Name:      "denied_total",
		Help:      "Total number of admission checks over the window quota",
	})
)

// Engine Metrics
var (
	EngineStreamsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inkwell",
		Subsystem: "engine",
		Name:      "streams_total",
		Help:      "Total number of streaming generation calls",
	})

	EngineFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inkwell",
		Subsystem: "engine",
		Name:      "fallbacks_total",
		Help:      "Total number of generations served over the unary fallback path",
	})

	EngineErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inkwell",
		Subsystem: "engine",
		Name:      "errors_total",
		Help:      "Total number of generation engine errors",
	})
)
