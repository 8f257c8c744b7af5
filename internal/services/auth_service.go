package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/models"
	"github.com/thereayou/cipherchat/pkg/apperr"
	"github.com/thereayou/cipherchat/pkg/auth"
)

// Authenticator resolves connection credentials to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type TokenAuthenticator struct {
	jwt        *auth.JWTManager
	blacklist  TokenBlacklist
	identities IdentityStore
}

func NewTokenAuthenticator(jwt *auth.JWTManager, blacklist TokenBlacklist, identities IdentityStore) *TokenAuthenticator {
	return &TokenAuthenticator{jwt: jwt, blacklist: blacklist, identities: identities}
}

// Authenticate verifies the token, rejects revoked ones and loads the identity.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, apperr.Unauthorized("missing token")
	}

	claims, err := a.jwt.Verify(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnauthorized, "invalid token", err)
	}

	revoked, err := a.blacklist.IsRevoked(ctx, token)
	if err != nil {
		return nil, apperr.Storage("failed to check token", err)
	}
	if revoked {
		return nil, apperr.Unauthorized("token is blacklisted")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperr.Unauthorized("invalid user id")
	}

	user, err := a.identities.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Unauthorized("unknown identity")
		}
		return nil, err
	}
	return user, nil
}
