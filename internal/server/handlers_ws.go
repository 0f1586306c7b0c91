package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/harborview/realtime/internal/domain"
	"github.com/harborview/realtime/internal/logging"
	"github.com/harborview/realtime/internal/metrics"
	"github.com/harborview/realtime/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Tokens gate access; dashboards embed from many origins
	},
}

// handleWebSocket admits, authenticates and then hands the socket to the
// dispatcher. Auth failures happen after the upgrade so the client
// receives a proper close code instead of an opaque HTTP error.
func (s *Server) handleWebSocket(c echo.Context) error {
	workspaceID := c.Param("workspace")
	ip := c.RealIP()

	if ok, reason := s.limits.Acquire(ip); !ok {
		metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": string(reason)})
	}
	defer s.limits.Release(ip)

	token := bearerToken(c)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade websocket: %w", err)
	}

	ctx := c.Request().Context()

	identity, err := s.verifier.Verify(ctx, token)
	if err != nil {
		code := protocol.CodeInternalError
		message := "internal error"
		switch {
		case errors.Is(err, domain.ErrTokenExpired):
			code = protocol.CodeTokenExpired
			message = "token expired"
		case errors.Is(err, domain.ErrInvalidToken):
			code = protocol.CodeInvalidToken
			message = "invalid token"
		}
		metrics.ConnectionsRejected.WithLabelValues("auth").Inc()
		closeWithCode(conn, code, message)
		return nil
	}

	if !identity.MemberOf(workspaceID) {
		logging.WithUser(identity.UserID).Warn("Workspace access denied", "workspace_id", workspaceID)
		metrics.ConnectionsRejected.WithLabelValues("access_denied").Inc()
		closeWithCode(conn, protocol.CodeAccessDenied, "access denied")
		return nil
	}

	// Blocks until the connection closes
	s.dispatcher.Serve(ctx, conn, workspaceID, identity)
	return nil
}

func bearerToken(c echo.Context) string {
	if h := c.Request().Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.QueryParam("token")
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
