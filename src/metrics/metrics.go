package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FixesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationshare_fixes_total",
			Help: "Position fixes seen by the sampling loop, by outcome",
		},
		[]string{"mode", "result"}, // accepted, inaccurate, stale, invalid, error
	)

	TrackingState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "locationshare_tracking_state",
			Help: "Current tracking state (0 stopped, 1 starting, 2 foreground, 3 background, 4 suspended)",
		},
	)

	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationshare_cache_operations_total",
			Help: "Offline cache operations, by operation and result",
		},
		[]string{"operation", "result"},
	)

	BroadcastAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationshare_broadcast_attempts_total",
			Help: "Outbound location writes, by result",
		},
		[]string{"result"}, // success, retry, failed
	)

	BroadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "locationshare_broadcast_duration_seconds",
			Help:    "Time from handoff to final outcome of a location broadcast, including backoff",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	FriendUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationshare_friend_updates_total",
			Help: "Inbound friend fixes, by outcome",
		},
		[]string{"result"}, // emitted, rejected, out_of_order, inactive, revoked
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "locationshare_friend_subscriptions",
			Help: "Open friend location subscriptions",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "locationshare_circuit_breaker_state",
			Help: "Backend circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	BackgroundBudget = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationshare_background_budget_total",
			Help: "Background execution budget events",
		},
		[]string{"event"}, // acquired, renewed, released, exhausted
	)
)
