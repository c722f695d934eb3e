package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reaction Service Metrics
var (
	// SubmitsTotal tracks processed submits by transition kind (select/switch/clear/noop)
	SubmitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaction_submits_total",
			Help: "Total reaction submits by transition kind",
		},
		[]string{"transition"},
	)

	// SubmitsRejectedTotal tracks rejected submits by reason
	SubmitsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaction_submits_rejected_total",
			Help: "Total rejected reaction submits by reason",
		},
		[]string{"reason"},
	)

	// SubmitDuration tracks submit latency in seconds
	SubmitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reaction_submit_duration_seconds",
			Help:    "Reaction submit duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// SnapshotReadsTotal tracks snapshot reads by source (store/collapsed)
	SnapshotReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaction_snapshot_reads_total",
			Help: "Total snapshot reads by source",
		},
		[]string{"source"},
	)
)

// Store Metrics
var (
	// StoreOpsTotal tracks store operations by operation and status
	StoreOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaction_store_operations_total",
			Help: "Total reaction store operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// CircuitBreakerState tracks current store circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reaction_store_circuit_breaker_state",
			Help: "Current store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// BaselineCacheEvictions tracks baseline cache entries evicted by the timer
	BaselineCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baseline_cache_evictions_total",
			Help: "Total baseline cache entries evicted after TTL expiry",
		},
	)

	// BaselineCacheSize tracks current baseline cache entries
	BaselineCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "baseline_cache_size",
			Help: "Current number of baseline cache entries",
		},
	)
)

// Redis Metrics
var (
	// RedisOpsTotal tracks Redis operations by command name and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by command and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks failed Redis connection attempts
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection dial errors",
		},
	)
)

// Broadcaster Metrics
var (
	// BroadcasterActivePosts tracks posts with at least one connected subscriber
	BroadcasterActivePosts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_active_posts",
			Help: "Number of posts with at least one connected subscriber",
		},
	)

	// BroadcasterConnectedClients tracks connected WebSocket clients across all posts
	BroadcasterConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_connected_clients_total",
			Help: "Total number of connected WebSocket clients across all posts",
		},
	)

	// BroadcasterSlowClientsEvicted tracks slow clients evicted due to full buffers
	BroadcasterSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_slow_clients_evicted_total",
			Help: "Total number of slow WebSocket clients evicted due to buffer full",
		},
	)

	// BroadcasterStaleDropsTotal tracks snapshots dropped for being older than one already delivered
	BroadcasterStaleDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_stale_snapshots_dropped_total",
			Help: "Snapshots dropped because a newer revision was already delivered",
		},
	)

	// BroadcasterPanicsTotal tracks broadcaster panic recoveries
	BroadcasterPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_panics_total",
			Help: "Total broadcaster panic recoveries",
		},
	)

	// BroadcasterStopTimeoutsTotal tracks forced shutdowns after the stop timeout
	BroadcasterStopTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_stop_timeouts_total",
			Help: "Total broadcaster shutdowns that exceeded the stop timeout",
		},
	)

	// BroadcasterDroppedSnapshotsTotal tracks snapshots dropped because the command channel was full
	BroadcasterDroppedSnapshotsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_dropped_snapshots_total",
			Help: "Snapshots dropped because the broadcaster command channel was full",
		},
	)
)

// WebSocket Metrics
var (
	// WebSocketMessageSendDuration tracks per-message write latency in seconds
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// WebSocketPingFailures tracks failed keepalive pings
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total WebSocket keepalive ping failures",
		},
	)

	// WebSocketIdleDisconnects tracks clients disconnected for inactivity
	WebSocketIdleDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_idle_disconnects_total",
			Help: "Total WebSocket clients disconnected due to inactivity",
		},
	)
)
