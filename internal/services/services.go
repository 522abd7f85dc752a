// package services defines the upstream provider contracts used by the session broker.
package services

import (
	"context"
)

// TokenExchanger converts authorization codes and refresh tokens into token grants.
//
// Implementations call the provider's token endpoint and never touch the session store.
type TokenExchanger interface {
	// ExchangeCode trades a single-use authorization code for an access/refresh token pair.
	ExchangeCode(ctx context.Context, code string) (*TokenGrant, error)

	// ExchangeRefreshToken mints a new access token. The returned grant carries the input
	// refresh token when the provider did not rotate it.
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error)
}

// ProfileFetcher resolves the provider identity behind an access token.
type ProfileFetcher interface {
	UserProfile(ctx context.Context, accessToken string) (*SpotifyUser, error)
}

// TokenGrant is the token endpoint's answer.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // seconds, relative to when the grant was minted
}
