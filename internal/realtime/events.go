package realtime

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/harborview/realtime/internal/metrics"
	"github.com/harborview/realtime/internal/protocol"
)

// Domain event types carried in workspace broadcasts.
const (
	EventExecutionStarted      = "execution_started"
	EventExecutionCompleted    = "execution_completed"
	EventExecutionFailed       = "execution_failed"
	EventMetricsUpdated        = "metrics_updated"
	EventAgentStatusChanged    = "agent_status_changed"
	EventAlertTriggered        = "alert_triggered"
	EventBottleneckDetected    = "bottleneck_detected"
	EventWorkspaceNotification = "workspace_notification"
)

// EnvelopePublisher forwards an envelope to sibling processes. Implemented
// by the pub/sub bridge; nil disables cross-process fan-out.
type EnvelopePublisher interface {
	Publish(ctx context.Context, workspaceID string, envelope protocol.Envelope) error
}

// EventBroadcaster is the sanctioned entry point for other subsystems to
// inject realtime notifications. Each method wraps a domain event in a
// canonical envelope, fans it out to local connections, and publishes it
// for sibling processes. No method ever returns an error; delivery
// failures are handled inside the Manager and publish failures are logged.
type EventBroadcaster struct {
	manager   *Manager
	publisher EnvelopePublisher
	clock     clockwork.Clock
}

// NewEventBroadcaster creates a broadcaster. publisher may be nil when the
// process runs without a broker.
func NewEventBroadcaster(manager *Manager, publisher EnvelopePublisher, clock clockwork.Clock) *EventBroadcaster {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &EventBroadcaster{manager: manager, publisher: publisher, clock: clock}
}

func (b *EventBroadcaster) broadcast(ctx context.Context, workspaceID string, envelope protocol.Envelope) {
	b.manager.BroadcastToWorkspace(workspaceID, envelope, nil)
	metrics.BroadcastsTotal.WithLabelValues(envelope.Event).Inc()

	if b.publisher == nil {
		return
	}
	if err := b.publisher.Publish(ctx, workspaceID, envelope); err != nil {
		slog.Warn("Failed to publish event to broker",
			"workspace_id", workspaceID,
			"event", envelope.Event,
			"error", err,
		)
	}
}

func (b *EventBroadcaster) event(eventType string, data map[string]any) protocol.Envelope {
	return protocol.NewEventEnvelope(eventType, data, b.clock.Now())
}

// BroadcastExecutionStarted announces a started execution run.
func (b *EventBroadcaster) BroadcastExecutionStarted(ctx context.Context, workspaceID string, data map[string]any) {
	b.broadcast(ctx, workspaceID, b.event(EventExecutionStarted, data))
}

// BroadcastExecutionCompleted announces a completed execution run.
func (b *EventBroadcaster) BroadcastExecutionCompleted(ctx context.Context, workspaceID string, data map[string]any) {
	b.broadcast(ctx, workspaceID, b.event(EventExecutionCompleted, data))
}

// BroadcastExecutionFailed announces a failed execution run.
func (b *EventBroadcaster) BroadcastExecutionFailed(ctx context.Context, workspaceID string, data map[string]any) {
	b.broadcast(ctx, workspaceID, b.event(EventExecutionFailed, data))
}

// BroadcastMetricsUpdated pushes a fresh aggregate metric value.
func (b *EventBroadcaster) BroadcastMetricsUpdated(ctx context.Context, workspaceID string, data map[string]any) {
	b.broadcast(ctx, workspaceID, b.event(EventMetricsUpdated, data))
}

// BroadcastAgentStatusChanged announces an agent status transition.
func (b *EventBroadcaster) BroadcastAgentStatusChanged(ctx context.Context, workspaceID string, data map[string]any) {
	b.broadcast(ctx, workspaceID, b.event(EventAgentStatusChanged, data))
}

// BroadcastAlert raises a workspace alert with a severity.
func (b *EventBroadcaster) BroadcastAlert(ctx context.Context, workspaceID, severity string, data map[string]any) {
	envelope := b.event(EventAlertTriggered, data)
	envelope.Severity = severity
	b.broadcast(ctx, workspaceID, envelope)
}

// BroadcastBottleneckDetected announces a detected pipeline bottleneck.
func (b *EventBroadcaster) BroadcastBottleneckDetected(ctx context.Context, workspaceID string, data map[string]any) {
	b.broadcast(ctx, workspaceID, b.event(EventBottleneckDetected, data))
}

// BroadcastNotification delivers a free-form workspace notification.
func (b *EventBroadcaster) BroadcastNotification(ctx context.Context, workspaceID string, data map[string]any) {
	b.broadcast(ctx, workspaceID, b.event(EventWorkspaceNotification, data))
}
