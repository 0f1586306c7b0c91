package realtime

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/harborview/realtime/internal/domain"
	"github.com/harborview/realtime/internal/logging"
	"github.com/harborview/realtime/internal/metrics"
	"github.com/harborview/realtime/internal/protocol"
)

// Dispatcher runs the per-connection receive loop: it registers the socket
// with the Manager, parses inbound frames, applies the rate limiter and
// routes each frame to the matching Manager operation. Everything that can
// go wrong inside the loop is answered with a non-fatal error frame; the
// loop only ends when the socket does.
type Dispatcher struct {
	manager  *Manager
	limiter  *RateLimiter
	provider domain.MetricsProvider
	clock    clockwork.Clock
}

// NewDispatcher creates a dispatcher. provider backs get_metrics and
// start_stream; passing nil disables both with an invalid-parameter error.
func NewDispatcher(manager *Manager, limiter *RateLimiter, provider domain.MetricsProvider, clock clockwork.Clock) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{manager: manager, limiter: limiter, provider: provider, clock: clock}
}

// Serve owns the socket until it closes. The caller has already verified
// the token and workspace membership; failures past this point never close
// the connection, only produce error frames.
func (d *Dispatcher) Serve(ctx context.Context, socket *websocket.Conn, workspaceID string, identity domain.Identity) {
	id := uuid.New()
	if err := d.manager.Connect(socket, id, workspaceID, identity); err != nil {
		logging.WithError(err).Error("Failed to register connection",
			"workspace_id", workspaceID,
			"user_id", identity.UserID,
		)
		closeMsg := websocket.FormatCloseMessage(protocol.CodeInternalError, "registration failed")
		_ = socket.WriteControl(websocket.CloseMessage, closeMsg, d.clock.Now().Add(time.Second))
		_ = socket.Close()
		return
	}
	defer d.manager.Disconnect(id, workspaceID)

	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			return
		}
		d.handleFrame(ctx, id, workspaceID, identity, data)
	}
}

func (d *Dispatcher) handleFrame(ctx context.Context, id uuid.UUID, workspaceID string, identity domain.Identity, data []byte) {
	frame, err := protocol.DecodeInbound(data)
	if err != nil {
		switch e := err.(type) {
		case *protocol.MalformedError:
			metrics.InboundFramesTotal.WithLabelValues("invalid", "rejected").Inc()
			d.sendError(id, protocol.CodeInvalidMessage, "invalid message", nil)
		case *protocol.UnknownTypeError:
			metrics.InboundFramesTotal.WithLabelValues("unknown", "rejected").Inc()
			d.sendError(id, protocol.CodeUnknownMessageType, "unknown message type", map[string]any{"type": e.Type})
		}
		return
	}

	action := protocol.FrameType(frame)
	if !d.limiter.Check(identity.UserID, action) {
		metrics.InboundFramesTotal.WithLabelValues(action, "rate_limited").Inc()
		d.sendError(id, protocol.CodeRateLimited, "rate limit exceeded", map[string]any{"action": action})
		return
	}
	metrics.InboundFramesTotal.WithLabelValues(action, "ok").Inc()

	switch f := frame.(type) {
	case *protocol.SubscribeFrame:
		d.manager.Subscribe(id, f.EventTypes)
	case *protocol.UnsubscribeFrame:
		d.manager.Unsubscribe(id, f.EventTypes)
	case *protocol.JoinRoomFrame:
		if f.Room == "" {
			d.sendError(id, protocol.CodeInvalidParameter, "room is required", nil)
			return
		}
		d.manager.JoinRoom(id, f.Room)
	case *protocol.LeaveRoomFrame:
		if f.Room == "" {
			d.sendError(id, protocol.CodeInvalidParameter, "room is required", nil)
			return
		}
		d.manager.LeaveRoom(id, f.Room)
	case *protocol.StartStreamFrame:
		d.handleStartStream(id, workspaceID, f)
	case *protocol.StopStreamFrame:
		if !d.manager.StopStream(id, f.StreamType) {
			d.sendError(id, protocol.CodeStreamNotFound, "stream not found", map[string]any{"stream_type": f.StreamType})
		}
	case *protocol.GetMetricsFrame:
		d.handleGetMetrics(ctx, id, workspaceID, f)
	case *protocol.PingFrame:
		d.manager.SendPersonal(id, protocol.NewEnvelope(protocol.TypePong, nil, d.clock.Now()))
	case *protocol.GetConnectionInfoFrame:
		info := d.manager.ConnectionInfo(id)
		d.manager.SendPersonal(id, protocol.NewEnvelope(protocol.TypeConnectionInfo, map[string]any{"data": info}, d.clock.Now()))
	case *protocol.UpdateSettingsFrame:
		d.manager.UpdateSettings(id, f.Settings)
	}
}

func (d *Dispatcher) handleStartStream(id uuid.UUID, workspaceID string, f *protocol.StartStreamFrame) {
	if d.provider == nil || f.StreamType == "" || !slices.Contains(d.provider.Names(), f.StreamType) {
		d.sendError(id, protocol.CodeInvalidParameter, "unknown stream type", map[string]any{"stream_type": f.StreamType})
		return
	}

	streamType := f.StreamType
	filters := f.Filters
	producer := func(ctx context.Context) (any, error) {
		return d.provider.Snapshot(ctx, streamType, workspaceID, filters)
	}
	d.manager.StartStream(id, streamType, producer, time.Duration(f.Interval)*time.Millisecond)
}

func (d *Dispatcher) handleGetMetrics(ctx context.Context, id uuid.UUID, workspaceID string, f *protocol.GetMetricsFrame) {
	if d.provider == nil {
		d.sendError(id, protocol.CodeInvalidParameter, "metrics are not available", nil)
		return
	}

	data := make(map[string]any, len(f.Metrics))
	for _, name := range f.Metrics {
		snapshot, err := d.provider.Snapshot(ctx, name, workspaceID, map[string]any{"timeframe": f.Timeframe})
		if err != nil {
			data[name] = map[string]any{"error": err.Error()}
			continue
		}
		data[name] = snapshot
	}

	d.manager.SendPersonal(id, protocol.NewEnvelope(protocol.TypeMetricsSnapshot, map[string]any{
		"data":      data,
		"timeframe": f.Timeframe,
	}, d.clock.Now()))
}

func (d *Dispatcher) sendError(id uuid.UUID, code int, message string, details any) {
	d.manager.SendPersonal(id, protocol.NewErrorEnvelope(code, message, details, d.clock.Now()))
}
