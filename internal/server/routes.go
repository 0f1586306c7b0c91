package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/version", s.handleVersion)

	// Websocket endpoint; token auth happens after the upgrade
	s.echo.GET("/ws/:workspace", s.handleWebSocket)

	// Event ingest for in-cluster producers. Exposed on the internal
	// network only; the ingress never routes /internal.
	s.echo.POST("/internal/events/:workspace", s.handleIngestEvent)
}
