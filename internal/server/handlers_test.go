package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/realtime/internal/config"
	"github.com/harborview/realtime/internal/domain"
	"github.com/harborview/realtime/internal/protocol"
	"github.com/harborview/realtime/internal/realtime"
)

// fakeVerifier resolves fixed tokens without a network round trip.
type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	switch token {
	case "valid-token":
		return domain.Identity{UserID: "user-1", Workspaces: []string{"ws-1"}}, nil
	case "expired-token":
		return domain.Identity{}, domain.ErrTokenExpired
	default:
		return domain.Identity{}, domain.ErrInvalidToken
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		MaxConnections:       100,
		MaxConnectionsPerIP:  100,
		ConnectionsPerSecond: 1000,
		ConnectionBurst:      1000,
	}
}

// testServer wires a Server with in-process collaborators and serves its
// echo instance from httptest.
func testServer(t *testing.T, cfg *config.Config) (*Server, *realtime.Manager, *httptest.Server) {
	t.Helper()

	if cfg == nil {
		cfg = testConfig()
	}

	manager := realtime.NewManager(realtime.Options{StreamMinInterval: 10 * time.Millisecond})
	t.Cleanup(func() { manager.Stop() })

	limiter := realtime.NewRateLimiterWithQuotas(clockwork.NewRealClock(), nil, 1000)
	dispatcher := realtime.NewDispatcher(manager, limiter, nil, nil)
	broadcaster := realtime.NewEventBroadcaster(manager, nil, nil)

	s := NewServer(cfg, dispatcher, broadcaster, fakeVerifier{}, nil, nil)

	ts := httptest.NewServer(s.echo)
	t.Cleanup(func() { ts.Close() })

	return s, manager, ts
}

func wsURL(ts *httptest.Server, workspaceID, token string) string {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + workspaceID
	if token != "" {
		url += "?token=" + token
	}
	return url
}

func dialWS(t *testing.T, url string, header http.Header) *ws.Conn {
	t.Helper()
	conn, _, err := ws.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readCloseCode(t *testing.T, conn *ws.Conn) int {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		closeErr, ok := err.(*ws.CloseError)
		require.True(t, ok, "expected close error, got %v", err)
		return closeErr.Code
	}
}

func TestHandleWebSocket_ValidToken(t *testing.T) {
	_, manager, ts := testServer(t, nil)

	conn := dialWS(t, wsURL(ts, "ws-1", "valid-token"), nil)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var f map[string]any
	require.NoError(t, json.Unmarshal(msg, &f))
	assert.Equal(t, protocol.TypeConnectionEstablished, f["type"])

	require.Eventually(t, func() bool {
		return manager.ConnectionCount("ws-1") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHandleWebSocket_BearerHeader(t *testing.T) {
	_, _, ts := testServer(t, nil)

	header := http.Header{"Authorization": []string{"Bearer valid-token"}}
	conn := dialWS(t, wsURL(ts, "ws-1", ""), header)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var f map[string]any
	require.NoError(t, json.Unmarshal(msg, &f))
	assert.Equal(t, protocol.TypeConnectionEstablished, f["type"])
}

func TestHandleWebSocket_InvalidToken(t *testing.T) {
	_, _, ts := testServer(t, nil)

	// The upgrade succeeds; the close frame carries the auth verdict
	conn := dialWS(t, wsURL(ts, "ws-1", "garbage"), nil)
	assert.Equal(t, protocol.CodeInvalidToken, readCloseCode(t, conn))
}

func TestHandleWebSocket_ExpiredToken(t *testing.T) {
	_, _, ts := testServer(t, nil)

	conn := dialWS(t, wsURL(ts, "ws-1", "expired-token"), nil)
	assert.Equal(t, protocol.CodeTokenExpired, readCloseCode(t, conn))
}

func TestHandleWebSocket_MissingToken(t *testing.T) {
	_, _, ts := testServer(t, nil)

	conn := dialWS(t, wsURL(ts, "ws-1", ""), nil)
	assert.Equal(t, protocol.CodeInvalidToken, readCloseCode(t, conn))
}

func TestHandleWebSocket_AccessDenied(t *testing.T) {
	_, _, ts := testServer(t, nil)

	// Token is valid but the identity is not a member of ws-2
	conn := dialWS(t, wsURL(ts, "ws-2", "valid-token"), nil)
	assert.Equal(t, protocol.CodeAccessDenied, readCloseCode(t, conn))
}

func TestHandleWebSocket_GlobalLimitRejectsWith429(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	_, _, ts := testServer(t, cfg)

	first := dialWS(t, wsURL(ts, "ws-1", "valid-token"), nil)
	first.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := first.ReadMessage()
	require.NoError(t, err)

	// The limit check runs before the upgrade, so the dial itself fails
	_, resp, err := ws.DefaultDialer.Dial(wsURL(ts, "ws-1", "valid-token"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHandleIngestEvent_DeliversToSubscribers(t *testing.T) {
	_, _, ts := testServer(t, nil)

	conn := dialWS(t, wsURL(ts, "ws-1", "valid-token"), nil)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage() // connection_established
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":        "subscribe",
		"event_types": []string{realtime.EventAlertTriggered},
	}))
	_, _, err = conn.ReadMessage() // subscribed ack
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{
		"event":    realtime.EventAlertTriggered,
		"severity": "critical",
		"data":     map[string]any{"alert_id": "al-7"},
	})
	resp, err := http.Post(ts.URL+"/internal/events/ws-1", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var f map[string]any
	require.NoError(t, json.Unmarshal(msg, &f))
	assert.Equal(t, realtime.EventAlertTriggered, f["type"])
	assert.Equal(t, "critical", f["severity"])
	data, ok := f["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "al-7", data["alert_id"])
}

func TestHandleIngestEvent_UnknownEvent(t *testing.T) {
	_, _, ts := testServer(t, nil)

	body, _ := json.Marshal(map[string]any{"event": "not_a_thing"})
	resp, err := http.Post(ts.URL+"/internal/events/ws-1", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleIngestEvent_InvalidBody(t *testing.T) {
	_, _, ts := testServer(t, nil)

	resp, err := http.Post(ts.URL+"/internal/events/ws-1", "application/json", strings.NewReader("{broken"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleLiveness(t *testing.T) {
	_, _, ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/health/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "uptime")
	assert.Contains(t, body, "active_connections")
}

type fakePostgresChecker struct{ err error }

func (f fakePostgresChecker) Ping(_ context.Context) error { return f.err }

type fakeRedisChecker struct{ err error }

func (f fakeRedisChecker) Ping(ctx context.Context) *goredis.StatusCmd {
	cmd := goredis.NewStatusCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	}
	return cmd
}

func TestHandleReadiness(t *testing.T) {
	s, _, ts := testServer(t, nil)
	s.redisHealthCheck = fakeRedisChecker{}
	s.postgresHealthCheck = fakePostgresChecker{}

	resp, err := http.Get(ts.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleReadiness_FailedDependency(t *testing.T) {
	s, _, ts := testServer(t, nil)
	s.redisHealthCheck = fakeRedisChecker{}
	s.postgresHealthCheck = fakePostgresChecker{err: context.DeadlineExceeded}

	resp, err := http.Get(ts.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "postgres", body["failed_check"])
}

func TestHandleVersion(t *testing.T) {
	_, _, ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/version")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "dev", body["version"])
	assert.Contains(t, body, "go_version")
}
