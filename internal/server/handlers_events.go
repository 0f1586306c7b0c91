package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/harborview/realtime/internal/realtime"
)

type ingestRequest struct {
	Event    string         `json:"event"`
	Severity string         `json:"severity"`
	Data     map[string]any `json:"data"`
}

// handleIngestEvent lets in-cluster producers (the aggregation workers,
// the alerting service) inject realtime notifications through the
// EventBroadcaster, which is the sole sanctioned entry point.
func (s *Server) handleIngestEvent(c echo.Context) error {
	workspaceID := c.Param("workspace")

	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	switch req.Event {
	case realtime.EventExecutionStarted:
		s.broadcaster.BroadcastExecutionStarted(ctx, workspaceID, req.Data)
	case realtime.EventExecutionCompleted:
		s.broadcaster.BroadcastExecutionCompleted(ctx, workspaceID, req.Data)
	case realtime.EventExecutionFailed:
		s.broadcaster.BroadcastExecutionFailed(ctx, workspaceID, req.Data)
	case realtime.EventMetricsUpdated:
		s.broadcaster.BroadcastMetricsUpdated(ctx, workspaceID, req.Data)
	case realtime.EventAgentStatusChanged:
		s.broadcaster.BroadcastAgentStatusChanged(ctx, workspaceID, req.Data)
	case realtime.EventAlertTriggered:
		s.broadcaster.BroadcastAlert(ctx, workspaceID, req.Severity, req.Data)
	case realtime.EventBottleneckDetected:
		s.broadcaster.BroadcastBottleneckDetected(ctx, workspaceID, req.Data)
	case realtime.EventWorkspaceNotification:
		s.broadcaster.BroadcastNotification(ctx, workspaceID, req.Data)
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown event type"})
	}

	return c.NoContent(http.StatusAccepted)
}
