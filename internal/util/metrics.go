package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders placed",
	})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_rejected_total",
		Help: "Total number of order placements rejected",
	}, []string{"reason"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entity_transitions_total",
		Help: "Total number of committed entity status transitions",
	}, []string{"entity", "to"})

	TransitionConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entity_transition_conflicts_total",
		Help: "Total number of transitions lost to a concurrent writer",
	}, []string{"entity"})

	ExchangeVerificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_verifications_failed_total",
		Help: "Total number of exchange codes that did not match",
	}, []string{"entity"})

	NotificationsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Total number of notifications persisted, by delivery outcome",
	}, []string{"outcome"})

	NotificationsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_swept_total",
		Help: "Total number of expired notifications deleted",
	})

	StatsEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_events_total",
		Help: "Total number of transaction events consumed for statistics",
	}, []string{"result"})

	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections",
		Help: "Number of open websocket connections",
	})

	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "room_members",
		Help: "Number of room memberships by room kind",
	}, []string{"kind"})

	ChatMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of chat messages persisted and broadcast",
	}, []string{"kind"})

	ChatPersistLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_persist_latency_seconds",
		Help:    "Latency of persisting a chat message before broadcast",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
