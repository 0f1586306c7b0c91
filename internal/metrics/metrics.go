package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection registry metrics
var (
	// ActiveConnections tracks currently registered websocket connections
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_active_connections",
			Help: "Number of registered websocket connections",
		},
	)

	// ActiveWorkspaces tracks workspaces with at least one connection
	ActiveWorkspaces = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_active_workspaces",
			Help: "Number of workspaces with at least one connection",
		},
	)

	// ActiveStreams tracks running metric stream tasks
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_active_streams",
			Help: "Number of running metric stream tasks",
		},
	)

	// EvictedConnections counts connections removed after a failed send
	EvictedConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_evicted_connections_total",
			Help: "Connections evicted after a failed send, by origin of the failure",
		},
		[]string{"origin"},
	)
)

// Broadcast metrics
var (
	// BroadcastsTotal counts workspace broadcasts by event type
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_broadcasts_total",
			Help: "Workspace broadcasts by event type",
		},
		[]string{"event"},
	)

	// FramesSentTotal counts frames handed to connection writers
	FramesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_frames_sent_total",
			Help: "Frames enqueued to connection writers",
		},
	)

	// FramesDroppedTotal counts frames dropped because a writer was full or stopped
	FramesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_frames_dropped_total",
			Help: "Frames dropped because the connection writer was full or stopped",
		},
	)
)

// Dispatcher metrics
var (
	// InboundFramesTotal counts handled client frames by type and status
	InboundFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_inbound_frames_total",
			Help: "Inbound client frames by type and status",
		},
		[]string{"type", "status"},
	)

	// RateLimitRejections counts actions denied by the sliding-window limiter
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_rate_limit_rejections_total",
			Help: "Actions denied by the per-user rate limiter",
		},
		[]string{"action"},
	)
)

// Pub/sub bridge metrics
var (
	// PubSubPublished counts envelopes published to the broker
	PubSubPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_pubsub_published_total",
			Help: "Envelopes published to the broker for sibling processes",
		},
	)

	// PubSubReceived counts broker messages received, by outcome
	PubSubReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_pubsub_received_total",
			Help: "Broker messages received by the bridge, by outcome",
		},
		[]string{"outcome"},
	)

	// PubSubErrors counts broker errors observed by the listen loop
	PubSubErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_pubsub_errors_total",
			Help: "Broker errors observed by the bridge listen loop",
		},
	)
)

// Connection admission metrics
var (
	// ConnectionsRejected counts websocket upgrades refused at admission
	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_connections_rejected_total",
			Help: "Websocket upgrades refused at admission, by reason",
		},
		[]string{"reason"},
	)
)
