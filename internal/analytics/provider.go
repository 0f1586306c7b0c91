// Package analytics implements the metrics provider on top of the
// analytics store. Only reads happen here; the schema and the aggregation
// pipelines that fill it are owned by other services.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborview/realtime/internal/domain"
)

// timeframes maps the wire-level timeframe names to lookback windows.
var timeframes = map[string]time.Duration{
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
}

const defaultTimeframe = 5 * time.Minute

type snapshotFunc func(ctx context.Context, pool *pgxpool.Pool, workspaceID string, lookback time.Duration) (any, error)

// PostgresProvider serves named metric snapshots from the analytics store.
type PostgresProvider struct {
	pool     *pgxpool.Pool
	registry map[string]snapshotFunc
	names    []string
}

// Connect opens a pgx pool against the analytics store.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// NewPostgresProvider creates a provider with the built-in metric registry.
func NewPostgresProvider(pool *pgxpool.Pool) *PostgresProvider {
	p := &PostgresProvider{
		pool: pool,
		registry: map[string]snapshotFunc{
			"active_users":    activeUsers,
			"execution_stats": executionStats,
			"agent_status":    agentStatus,
			"alert_summary":   alertSummary,
			"error_rate":      errorRate,
		},
	}
	for name := range p.registry {
		p.names = append(p.names, name)
	}
	return p
}

// Names implements domain.MetricsProvider.
func (p *PostgresProvider) Names() []string {
	return p.names
}

// Snapshot implements domain.MetricsProvider.
func (p *PostgresProvider) Snapshot(ctx context.Context, name, workspaceID string, filters map[string]any) (any, error) {
	fn, ok := p.registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownMetric, name)
	}
	return fn(ctx, p.pool, workspaceID, lookback(filters))
}

func lookback(filters map[string]any) time.Duration {
	tf, _ := filters["timeframe"].(string)
	if d, ok := timeframes[tf]; ok {
		return d
	}
	return defaultTimeframe
}

func activeUsers(ctx context.Context, pool *pgxpool.Pool, workspaceID string, lookback time.Duration) (any, error) {
	var count int64
	err := pool.QueryRow(ctx,
		`SELECT count(DISTINCT user_id)
		 FROM activity_events
		 WHERE workspace_id = $1 AND occurred_at > now() - $2::interval`,
		workspaceID, lookback.String(),
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("active_users query failed: %w", err)
	}
	return map[string]any{"active_users": count}, nil
}

func executionStats(ctx context.Context, pool *pgxpool.Pool, workspaceID string, lookback time.Duration) (any, error) {
	var total, completed, failed int64
	var avgDurationMs *float64
	err := pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status = 'completed'),
		        count(*) FILTER (WHERE status = 'failed'),
		        avg(duration_ms)
		 FROM executions
		 WHERE workspace_id = $1 AND started_at > now() - $2::interval`,
		workspaceID, lookback.String(),
	).Scan(&total, &completed, &failed, &avgDurationMs)
	if err != nil {
		return nil, fmt.Errorf("execution_stats query failed: %w", err)
	}
	stats := map[string]any{
		"total":     total,
		"completed": completed,
		"failed":    failed,
	}
	if avgDurationMs != nil {
		stats["avg_duration_ms"] = *avgDurationMs
	}
	return stats, nil
}

func agentStatus(ctx context.Context, pool *pgxpool.Pool, workspaceID string, _ time.Duration) (any, error) {
	rows, err := pool.Query(ctx,
		`SELECT status, count(*)
		 FROM agents
		 WHERE workspace_id = $1
		 GROUP BY status`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("agent_status query failed: %w", err)
	}
	defer rows.Close()

	byStatus := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("agent_status scan failed: %w", err)
		}
		byStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agent_status rows failed: %w", err)
	}
	return byStatus, nil
}

func alertSummary(ctx context.Context, pool *pgxpool.Pool, workspaceID string, lookback time.Duration) (any, error) {
	rows, err := pool.Query(ctx,
		`SELECT severity, count(*)
		 FROM alerts
		 WHERE workspace_id = $1 AND triggered_at > now() - $2::interval
		 GROUP BY severity`,
		workspaceID, lookback.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("alert_summary query failed: %w", err)
	}
	defer rows.Close()

	bySeverity := make(map[string]int64)
	for rows.Next() {
		var severity string
		var count int64
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("alert_summary scan failed: %w", err)
		}
		bySeverity[severity] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("alert_summary rows failed: %w", err)
	}
	return bySeverity, nil
}

func errorRate(ctx context.Context, pool *pgxpool.Pool, workspaceID string, lookback time.Duration) (any, error) {
	var total, failed int64
	err := pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status = 'failed')
		 FROM executions
		 WHERE workspace_id = $1 AND started_at > now() - $2::interval`,
		workspaceID, lookback.String(),
	).Scan(&total, &failed)
	if err != nil {
		return nil, fmt.Errorf("error_rate query failed: %w", err)
	}
	rate := 0.0
	if total > 0 {
		rate = float64(failed) / float64(total)
	}
	return map[string]any{"total": total, "failed": failed, "error_rate": rate}, nil
}
