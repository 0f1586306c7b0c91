package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/harborview/realtime/internal/analytics"
	"github.com/harborview/realtime/internal/auth"
	"github.com/harborview/realtime/internal/bridge"
	"github.com/harborview/realtime/internal/config"
	"github.com/harborview/realtime/internal/logging"
	"github.com/harborview/realtime/internal/realtime"
	"github.com/harborview/realtime/internal/server"
)

const rateLimitCleanupInterval = 5 * time.Minute

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := analytics.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return pool
}

func setupRedis(cfg *config.Config) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := bridge.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, manager *realtime.Manager, listenCancel context.CancelFunc, psBridge *bridge.Bridge, stopCleanup func()) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		manager.Stop()
		listenCancel()
		if err := psBridge.Close(); err != nil {
			slog.Error("Bridge close error", "error", err)
		}
		stopCleanup()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Realtime service starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	limiter := realtime.NewRateLimiter(clock)
	stopCleanup := limiter.StartCleanupTimer(rateLimitCleanupInterval)

	// The bridge subscribes a workspace's broker channel while at least
	// one local connection lives in it. The hooks fire before the bridge
	// exists, hence the indirection.
	var psBridge *bridge.Bridge
	manager := realtime.NewManager(realtime.Options{
		Clock:             clock,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StreamMinInterval: cfg.StreamMinInterval,
		OnWorkspaceActive: func(workspaceID string) {
			if psBridge != nil {
				psBridge.SubscribeWorkspace(context.Background(), workspaceID)
			}
		},
		OnWorkspaceEmpty: func(workspaceID string) {
			if psBridge != nil {
				psBridge.UnsubscribeWorkspace(context.Background(), workspaceID)
			}
		},
	})

	broker := bridge.NewRedisBroker(context.Background(), redisClient)
	psBridge = bridge.New(broker, manager, clock)

	listenCtx, listenCancel := context.WithCancel(context.Background())
	go psBridge.Listen(listenCtx)

	broadcaster := realtime.NewEventBroadcaster(manager, psBridge, clock)
	provider := analytics.NewPostgresProvider(pool)
	dispatcher := realtime.NewDispatcher(manager, limiter, provider, clock)

	verifier := auth.NewServiceVerifier(cfg.AuthServiceURL)

	srv := server.NewServer(cfg, dispatcher, broadcaster, verifier, redisClient, pool)
	done := runGracefulShutdown(srv, manager, listenCancel, psBridge, stopCleanup)

	if err := srv.Start(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Shutdown complete")
}
