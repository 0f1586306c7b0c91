package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/realtime/internal/domain"
)

func testTokenService(t *testing.T, handler http.HandlerFunc) *ServiceVerifier {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(func() { server.Close() })
	return NewServiceVerifier(server.URL)
}

func TestServiceVerifier_ValidToken(t *testing.T) {
	verifier := testTokenService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/verify", r.URL.Path)
		assert.Equal(t, "Bearer good-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"user_id": "user-1",
			"workspaces": ["ws-1", "ws-2"],
			"claims": {"role": "analyst"}
		}`))
	})

	identity, err := verifier.Verify(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, []string{"ws-1", "ws-2"}, identity.Workspaces)
	assert.Equal(t, "analyst", identity.Claims["role"])
	assert.True(t, identity.MemberOf("ws-2"))
	assert.False(t, identity.MemberOf("ws-3"))
}

func TestServiceVerifier_ExpiredToken(t *testing.T) {
	verifier := testTokenService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "token_expired"}`))
	})

	_, err := verifier.Verify(context.Background(), "old-token")
	require.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestServiceVerifier_InvalidToken(t *testing.T) {
	verifier := testTokenService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "token_revoked"}`))
	})

	_, err := verifier.Verify(context.Background(), "revoked-token")
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestServiceVerifier_ServiceError(t *testing.T) {
	verifier := testTokenService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := verifier.Verify(context.Background(), "any-token")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidToken)
	assert.NotErrorIs(t, err, domain.ErrTokenExpired)
	assert.Contains(t, err.Error(), "status 500")
}

func TestServiceVerifier_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Keep the URL, kill the listener

	verifier := NewServiceVerifier(server.URL)
	_, err := verifier.Verify(context.Background(), "any-token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}
