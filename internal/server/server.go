package server

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/harborview/realtime/internal/config"
	"github.com/harborview/realtime/internal/domain"
	"github.com/harborview/realtime/internal/realtime"
)

// Server is the HTTP face of the realtime subsystem: the websocket
// endpoint, the internal event ingest route, and observability endpoints.
type Server struct {
	echo        *echo.Echo
	config      *config.Config
	dispatcher  *realtime.Dispatcher
	broadcaster *realtime.EventBroadcaster
	verifier    domain.AuthVerifier
	limits      *ConnectionLimits
	redisClient *goredis.Client
	db          *pgxpool.Pool
	startTime   time.Time

	// Test seams for readiness checks
	redisHealthCheck    redisHealthChecker
	postgresHealthCheck postgresHealthChecker
}

func NewServer(cfg *config.Config, dispatcher *realtime.Dispatcher, broadcaster *realtime.EventBroadcaster, verifier domain.AuthVerifier, redisClient *goredis.Client, db *pgxpool.Pool) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		echo:        e,
		config:      cfg,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		verifier:    verifier,
		limits:      NewConnectionLimits(cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectionsPerSecond, cfg.ConnectionBurst),
		redisClient: redisClient,
		db:          db,
		startTime:   time.Now(),
	}
	s.registerRoutes()
	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	err := s.echo.Start(":" + s.config.Port)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
