package domain

import "context"

// MetricsProvider resolves named metric snapshots for a workspace.
// Implementations sit on top of the analytics store; the store schema is
// opaque to the realtime layer. Snapshots back both one-shot get_metrics
// requests and periodic stream ticks.
type MetricsProvider interface {
	// Snapshot computes the current value of the named metric.
	// Fails with ErrUnknownMetric for names not in the registry.
	Snapshot(ctx context.Context, name, workspaceID string, filters map[string]any) (any, error)

	// Names lists the metric names the provider can serve.
	Names() []string
}
