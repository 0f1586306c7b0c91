package domain

import "context"

// AuthVerifier validates bearer tokens presented during the websocket
// handshake. Token issuance and revocation live elsewhere; only the
// verification result is consumed here.
type AuthVerifier interface {
	// Verify resolves a token into an Identity.
	// Fails with ErrInvalidToken or ErrTokenExpired.
	Verify(ctx context.Context, token string) (Identity, error)
}
