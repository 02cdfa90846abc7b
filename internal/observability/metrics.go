package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	GrpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Current number of authenticated WebSocket connections",
		},
	)

	PresenceTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_transitions_total",
			Help: "Presence state changes caused by explicit operations, by target state",
		},
		[]string{"state"},
	)

	PresenceOnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_online_users",
			Help: "Users whose derived state was ONLINE at the last cleanup sweep",
		},
	)

	PresenceEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_evictions_total",
			Help: "Presence records removed by the cleanup sweep",
		},
	)

	PresenceBackendErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_backend_errors_total",
			Help: "Presence store failures, by operation",
		},
		[]string{"op"},
	)

	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Realtime frames fanned out to sessions, by frame type and origin",
		},
		[]string{"type", "origin"},
	)

	NotifyPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_notify_publish_total",
			Help: "Presence change publications, by sink and result",
		},
		[]string{"sink", "result"},
	)
)
