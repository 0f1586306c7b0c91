// Package auth adapts the platform's token service to the domain
// AuthVerifier interface. Token issuance, rotation and revocation live in
// that service; only the verification result is consumed here.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/harborview/realtime/internal/domain"
)

const verifyTimeout = 5 * time.Second

// ServiceVerifier verifies tokens against the token service's HTTP API.
type ServiceVerifier struct {
	baseURL string
	client  *http.Client
}

// NewServiceVerifier creates a verifier for the token service at baseURL.
func NewServiceVerifier(baseURL string) *ServiceVerifier {
	return &ServiceVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: verifyTimeout},
	}
}

type verifyResponse struct {
	UserID     string         `json:"user_id"`
	Workspaces []string       `json:"workspaces"`
	Claims     map[string]any `json:"claims"`
	Error      string         `json:"error"`
}

// Verify implements domain.AuthVerifier.
func (v *ServiceVerifier) Verify(ctx context.Context, token string) (domain.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/v1/verify", nil)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("token service unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Identity{}, fmt.Errorf("failed to decode verify response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return domain.Identity{
			UserID:     body.UserID,
			Workspaces: body.Workspaces,
			Claims:     body.Claims,
		}, nil
	case http.StatusUnauthorized:
		if body.Error == "token_expired" {
			return domain.Identity{}, domain.ErrTokenExpired
		}
		return domain.Identity{}, domain.ErrInvalidToken
	default:
		return domain.Identity{}, fmt.Errorf("token service returned status %d", resp.StatusCode)
	}
}
