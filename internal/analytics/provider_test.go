package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/realtime/internal/domain"
)

func TestPostgresProvider_Names(t *testing.T) {
	provider := NewPostgresProvider(nil)

	names := provider.Names()
	assert.Len(t, names, 5)
	assert.Contains(t, names, "active_users")
	assert.Contains(t, names, "execution_stats")
	assert.Contains(t, names, "agent_status")
	assert.Contains(t, names, "alert_summary")
	assert.Contains(t, names, "error_rate")
}

func TestPostgresProvider_UnknownMetric(t *testing.T) {
	provider := NewPostgresProvider(nil)

	_, err := provider.Snapshot(context.Background(), "not_a_metric", "ws-1", nil)
	require.ErrorIs(t, err, domain.ErrUnknownMetric)
	assert.Contains(t, err.Error(), "not_a_metric")
}

func TestLookback(t *testing.T) {
	assert.Equal(t, 5*time.Minute, lookback(nil))
	assert.Equal(t, 5*time.Minute, lookback(map[string]any{}))
	assert.Equal(t, 5*time.Minute, lookback(map[string]any{"timeframe": "bogus"}))
	assert.Equal(t, 5*time.Minute, lookback(map[string]any{"timeframe": 42}))
	assert.Equal(t, 15*time.Minute, lookback(map[string]any{"timeframe": "15m"}))
	assert.Equal(t, time.Hour, lookback(map[string]any{"timeframe": "1h"}))
	assert.Equal(t, 24*time.Hour, lookback(map[string]any{"timeframe": "24h"}))
}
