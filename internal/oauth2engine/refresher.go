package oauth2engine

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/relaymail/mailcore/pkg/models"
)

// TokenRefresher satisfies internal/provider.Refresher without
// importing that package, letting the registry wire a Gmail or
// Outlook *oauth2.Config in as each provider's refresh backend.
type TokenRefresher struct {
	cfg *oauth2.Config
}

// NewTokenRefresher wraps cfg (as returned by Gmail or Outlook) for
// use as a provider.Refresher.
func NewTokenRefresher(cfg *oauth2.Config) *TokenRefresher {
	return &TokenRefresher{cfg: cfg}
}

// Refresh exchanges creds.RefreshToken for a fresh access token.
func (r *TokenRefresher) Refresh(ctx context.Context, creds models.OAuth2Credentials) (models.OAuth2Credentials, error) {
	tok, err := Refresh(ctx, r.cfg, creds.RefreshToken)
	if err != nil {
		return models.OAuth2Credentials{}, fmt.Errorf("oauth2engine: token refresher: %w", err)
	}
	return models.OAuth2Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
	}, nil
}
