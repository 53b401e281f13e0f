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

// Poller metrics.
var (
	ItemsScheduledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_items_scheduled_total",
		Help: "Queue entries appended to the schedule, by slot placement mode",
	}, []string{"mode"})

	ItemsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_items_failed_total",
		Help: "Queue entries dead-lettered, by failure kind",
	}, []string{"kind"})

	PollerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playout_poller_state",
		Help: "1 for the poller's current state, 0 otherwise",
	}, []string{"state"})

	PollerLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playout_poller_last_success_timestamp_seconds",
		Help: "Unix time of the last record appended to the schedule",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playout_queue_depth",
		Help: "Pending entries in the queue file",
	})

	WriteConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playout_write_conflicts_total",
		Help: "Inserts that lost a race against another schedule writer",
	})

	ScheduleLeadSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playout_schedule_lead_seconds",
		Help: "Seconds between now and the end of the last scheduled record",
	})
)

// Store metrics.
var (
	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playout_store_operation_duration_seconds",
		Help:    "Schedule store operation latency including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})

	StoreRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_store_retries_total",
		Help: "Store attempts that failed transiently and were retried",
	}, []string{"operation"})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playout_database_query_duration_seconds",
		Help:    "Database query latency as seen by gorm",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_database_errors_total",
		Help: "Database errors by operation and class",
	}, []string{"operation", "class"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playout_database_connections_active",
		Help: "Open database connections",
	})
)

// Leader election metrics.
var (
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playout_leader_election_status",
		Help: "1 if this instance holds the scheduling lease",
	}, []string{"instance_id"})

	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_leader_election_changes_total",
		Help: "Leadership transitions observed by this instance",
	}, []string{"transition"})
)

// HTTP metrics.
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playout_api_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_api_requests_total",
		Help: "HTTP requests served",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playout_api_active_connections",
		Help: "HTTP requests in flight",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playout_api_websocket_connections",
		Help: "Open event stream WebSocket connections",
	})
)

// SetPollerState marks state as the current poller state.
func SetPollerState(state string, all ...string) {
	for _, s := range all {
		PollerState.WithLabelValues(s).Set(0)
	}
	PollerState.WithLabelValues(state).Set(1)
}

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
