package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ambulance_dispatch"

var (
	DispatchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "requests_total", Help: "Total dispatch requests started"})
	DispatchCancelsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "cancels_total", Help: "Total dispatch requests cancelled"})
	OriginFallbackTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "origin_fallback_total", Help: "Requests that fell back to the default origin"})
	StageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "stage_transitions_total", Help: "Lifecycle transitions by target stage"},
		[]string{"stage"},
	)
	MovementTicksTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "movement_ticks_total", Help: "Vehicle movement ticks applied"})
	StaleCallbacksTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "stale_callbacks_total", Help: "Timer or route callbacks ignored because their request was superseded"})
	RouteFailuresTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "route_failures_total", Help: "Route resolutions that failed or timed out"})
	RouteResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "route_resolve_seconds", Help: "Route resolution latency", Buckets: prometheus.DefBuckets})
	ActiveSessions       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "active_sessions", Help: "Open tracking sessions"})
	EventsDroppedTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "events_dropped_total", Help: "Dispatch events dropped because the bus was full"})
	SinkErrorsTotal      = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "sink_errors_total", Help: "Event sink failures"},
		[]string{"sink"},
	)
	AlertsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "alerts_sent_total", Help: "Emergency alerts delivered per service"},
		[]string{"service", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "api_requests_total", Help: "Dispatch API calls by route template"},
		[]string{"method", "route", "code"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Dispatch API latency by route template",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)
)
