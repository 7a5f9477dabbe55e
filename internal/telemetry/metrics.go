/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Playback
	PlaybackTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_playback_transitions_total",
		Help: "Room playback transitions by kind (start, idle, skip).",
	}, []string{"kind"})

	PlaybackTransitionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_playback_transition_errors_total",
		Help: "Room playback transitions that failed and were rolled back.",
	}, []string{"kind"})

	// Track timers
	TimerPosts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_timer_posts_total",
		Help: "Track timers posted.",
	})

	TimerSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_timer_superseded_total",
		Help: "Track timers replaced by a newer post under the same id.",
	})

	TimerCancels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_timer_cancels_total",
		Help: "Track timers cancelled before firing.",
	})

	TimerFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_timer_fires_total",
		Help: "Track timer deliveries by handler result.",
	}, []string{"result"})

	TimerRedeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_timer_redeliveries_total",
		Help: "Track timers redelivered after an expired lease.",
	})

	TimerBackoffs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_timer_backoffs_total",
		Help: "Track timer deliveries past the attempt budget, redelivered with backoff.",
	})

	TimerClaimErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_timer_claim_errors_total",
		Help: "Failed timer claim round trips.",
	})

	// Coordination store
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_store_errors_total",
		Help: "State store operations that failed.",
	}, []string{"op"})

	LockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ripple_room_lock_wait_seconds",
		Help:    "Time spent acquiring the room critical section.",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	})

	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_room_lock_timeouts_total",
		Help: "Room lock acquisitions abandoned.",
	})

	// Event bus and realtime relay
	BusHandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_event_handler_failures_total",
		Help: "Event handlers that returned an error or panicked.",
	}, []string{"event_type"})

	RelayPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_relay_publish_errors_total",
		Help: "Realtime relay publish failures by backend.",
	}, []string{"backend"})

	HubDroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_hub_dropped_messages_total",
		Help: "Realtime messages dropped because a client was too slow.",
	})

	// Room records
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ripple_database_query_duration_seconds",
		Help:    "Room record query duration by operation and table.",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_database_errors_total",
		Help: "Room record queries that failed.",
	}, []string{"operation", "table"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ripple_database_connections_active",
		Help: "Open connections in the room record pool.",
	})

	// HTTP API
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ripple_api_request_duration_seconds",
		Help:    "HTTP request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_api_requests_total",
		Help: "HTTP requests handled.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ripple_api_active_connections",
		Help: "In-flight HTTP requests.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ripple_api_websocket_connections",
		Help: "Open room WebSocket connections.",
	})
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
