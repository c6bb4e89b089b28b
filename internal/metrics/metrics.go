// Package metrics provides Prometheus instrumentation for the Chance
// services: matchmaking throughput and wait times on the API tier,
// connection and event fan-out counts on the relay tier.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections tracks the current number of live WebSocket connections
	// on this relay node.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chance_connections",
		Help: "Current number of live WebSocket connections",
	})

	// EventsPublished counts events published to the broadcast relay,
	// labeled by event type.
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chance_events_published_total",
		Help: "Events published to the broadcast relay",
	}, []string{"type"})

	// EventsDelivered counts relay events fanned out to local connections.
	EventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chance_events_delivered_total",
		Help: "Relay events delivered to local WebSocket connections",
	})

	// MatchesTotal counts successful matches made by this process.
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chance_matches_total",
		Help: "Total number of successful matches",
	})

	// MatchWaitSeconds records how long the waiting side was queued before
	// being matched.
	MatchWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chance_match_wait_seconds",
		Help:    "Time a user waited in the queue before being matched",
		Buckets: []float64{1, 2, 5, 10, 15, 20, 25, 30},
	})

	// MatchQueueSize tracks the number of users inside the live candidate
	// window, updated by the cleanup sweep.
	MatchQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chance_match_queue_size",
		Help: "Current number of users in the matching queue",
	})

	// ActiveSessions tracks the number of sessions currently active.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chance_active_sessions",
		Help: "Current number of active chat sessions",
	})
)

func init() {
	prometheus.MustRegister(
		Connections,
		EventsPublished,
		EventsDelivered,
		MatchesTotal,
		MatchWaitSeconds,
		MatchQueueSize,
		ActiveSessions,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
