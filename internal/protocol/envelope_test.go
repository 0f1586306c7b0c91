package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope_StampsRFC3339(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	env := NewEnvelope(TypePong, nil, at)

	assert.Equal(t, TypePong, env.Type)
	assert.Empty(t, env.Event)
	assert.Equal(t, "2026-03-14T09:26:53Z", env.Timestamp)
}

func TestNewEventEnvelope_SetsRoutingKey(t *testing.T) {
	env := NewEventEnvelope("execution_completed", map[string]any{"run_id": "r1"}, time.Now())

	assert.Equal(t, "execution_completed", env.Type)
	assert.Equal(t, "execution_completed", env.Event)
}

func TestNewErrorEnvelope_Shape(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	env := NewErrorEnvelope(CodeRateLimited, "rate limit exceeded", map[string]any{"action": "ping"}, at)

	data, err := env.Encode()
	require.NoError(t, err)

	var decoded struct {
		Type      string `json:"type"`
		Timestamp string `json:"timestamp"`
		Data      struct {
			Code    int            `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, TypeError, decoded.Type)
	assert.Equal(t, CodeRateLimited, decoded.Data.Code)
	assert.Equal(t, "rate limit exceeded", decoded.Data.Message)
	assert.Equal(t, "ping", decoded.Data.Details["action"])
	assert.Equal(t, "2026-03-14T09:26:53Z", decoded.Timestamp)
}
