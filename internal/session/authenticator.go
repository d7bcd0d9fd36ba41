package session

import (
	"context"
	"errors"

	"farmgate/internal/repository"
	"farmgate/pkg/jwt"
)

// Authenticator verifies the bearer token presented on upgrade.
type Authenticator struct {
	tokens *jwt.Manager
	state  repository.StateStore
}

func NewAuthenticator(tokens *jwt.Manager, state repository.StateStore) *Authenticator {
	return &Authenticator{tokens: tokens, state: state}
}

// Authenticate checks the token's signature and expiry and that its nonce is
// still the live one for the identity. Failures are *CloseError values.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*jwt.Claims, error) {
	if token == "" {
		return nil, closeErr(CloseInvalidToken, "missing token")
	}
	claims, err := a.tokens.Validate(token)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, closeErr(CloseExpired, "token expired")
	}
	if err != nil {
		return nil, closeErr(CloseInvalidToken, "invalid token")
	}

	nonce, ok, err := a.state.Get(ctx, repository.NonceKey(claims.TeleID))
	if err != nil {
		return nil, closeErr(CloseInternal, "internal error")
	}
	if !ok || nonce != claims.Nonce {
		return nil, closeErr(CloseExpired, "session expired")
	}
	return claims, nil
}
