// Package metrics provides Prometheus metrics collection for the chat gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocketConnections tracks the current number of active WebSocket connections
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_websocket_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// EventsReceived tracks the total number of events received by name
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_events_received_total",
		Help: "Total number of events received from clients by event name",
	}, []string{"event"})

	// EventsSent tracks the total number of events sent to clients
	EventsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_events_sent_total",
		Help: "Total number of events sent to clients",
	})

	// EventErrors tracks the total number of event processing errors
	EventErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_event_errors_total",
		Help: "Total number of event processing errors",
	})

	// ActiveSessions tracks the current number of active sessions
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_sessions_total",
		Help: "Current number of active sessions",
	})

	// ActiveRooms tracks the current number of rooms with members
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_rooms_total",
		Help: "Current number of rooms with at least one member",
	})

	// ConversationsCreated tracks the total number of conversations created
	ConversationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_conversations_created_total",
		Help: "Total number of conversations created",
	})

	// RateLimitDenials tracks the total number of rate-limited messages
	RateLimitDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_rate_limit_denials_total",
		Help: "Total number of messages rejected by the rate limiter",
	})

	// Escalations tracks the total number of escalations by type
	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_escalations_total",
		Help: "Total number of escalations by type",
	}, []string{"type"})

	// ReconnectTokensIssued tracks the total number of reconnection tokens issued
	ReconnectTokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_reconnect_tokens_issued_total",
		Help: "Total number of reconnection tokens issued",
	})

	// ReconnectTokensRedeemed tracks the total number of reconnection tokens redeemed
	ReconnectTokensRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_reconnect_tokens_redeemed_total",
		Help: "Total number of reconnection tokens redeemed",
	})

	// NotificationsPublished tracks the total number of notifications published
	NotificationsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_notifications_published_total",
		Help: "Total number of notifications published to users",
	})

	// CaseUpdatesPublished tracks the total number of case updates published
	CaseUpdatesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_case_updates_published_total",
		Help: "Total number of case updates fanned out to case rooms",
	})

	// StoreErrors tracks the total number of record store failures
	StoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_store_errors_total",
		Help: "Total number of record store operation failures",
	})

	// HTTPRequestDuration tracks HTTP request duration by endpoint and method
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by endpoint and method",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method"})
)
