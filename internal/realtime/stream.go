package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harborview/realtime/internal/protocol"
)

// runStream is the per-stream tick loop: produce a snapshot, push it as a
// metrics_update frame, sleep the interval, repeat. A producer error sends
// one stream_error frame and ends the loop; the stream is not restarted
// automatically. A send failure means the socket is gone, so it funnels
// into the shared disconnect path instead.
func (m *Manager) runStream(ctx context.Context, id uuid.UUID, workspaceID string, writer *connWriter, streamType string, producer StreamProducer, interval time.Duration, done chan struct{}) {
	defer close(done)

	for {
		snapshot, err := producer(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("Stream producer failed",
				"connection_id", id.String(),
				"stream_type", streamType,
				"error", err,
			)
			errFrame := protocol.NewEnvelope(protocol.TypeStreamError, map[string]any{
				"stream_type": streamType,
				"error":       err.Error(),
			}, m.clock.Now())
			if data, encErr := errFrame.Encode(); encErr == nil {
				writer.trySend(data)
			}
			return
		}

		update := protocol.NewEnvelope(protocol.TypeMetricsUpdate, map[string]any{
			"stream_type": streamType,
			"data":        snapshot,
		}, m.clock.Now())
		data, err := update.Encode()
		if err != nil {
			slog.Error("Failed to encode stream update", "stream_type", streamType, "error", err)
			return
		}
		if !writer.trySend(data) {
			go m.disconnect(id, workspaceID, "stream")
			return
		}

		timer := m.clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}
	}
}

// spawnHeartbeat starts the 30s liveness push for a connection. A failed
// heartbeat send tears the whole connection down through the same path as
// a failed broadcast send, so no orphaned stream tasks survive it.
func (m *Manager) spawnHeartbeat(conn *connection) *task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	go m.runHeartbeat(ctx, conn.id, conn.workspaceID, conn.writer, t.done)
	return t
}

func (m *Manager) runHeartbeat(ctx context.Context, id uuid.UUID, workspaceID string, writer *connWriter, done chan struct{}) {
	defer close(done)

	ticker := m.clock.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			beat := protocol.NewEnvelope(protocol.TypeHeartbeat, nil, m.clock.Now())
			data, err := beat.Encode()
			if err != nil {
				slog.Error("Failed to encode heartbeat", "error", err)
				return
			}
			if !writer.trySend(data) {
				go m.disconnect(id, workspaceID, "heartbeat")
				return
			}
		}
	}
}
