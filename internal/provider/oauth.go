package provider

import (
	"context"
	"fmt"

	"github.com/relaymail/mailcore/pkg/models"
)

// oauthProvider is shared by Gmail and Outlook: fixed host/port,
// XOAUTH2 auth, and a Refresher that does the actual token exchange
// (internal/oauth2engine).
type oauthProvider struct {
	tag       models.Provider
	host      string
	port      int
	refresher Refresher
}

func (p oauthProvider) Tag() models.Provider { return p.tag }

func (p oauthProvider) ConnectionParams(account *models.Account, creds models.Credentials) (ConnParams, error) {
	oc, err := requireOAuth2(creds)
	if err != nil {
		return ConnParams{}, fmt.Errorf("%s: %w", p.tag, err)
	}
	return ConnParams{
		Host:        p.host,
		Port:        p.port,
		Security:    models.SecuritySSL,
		AuthKind:    models.AuthOAuth2,
		Email:       account.Email,
		AccessToken: oc.AccessToken,
	}, nil
}

func (p oauthProvider) NeedsRefresh(creds models.Credentials) bool {
	return oauthNeedsRefresh(creds)
}

func (p oauthProvider) Refresh(ctx context.Context, creds models.Credentials) (models.Credentials, error) {
	oc, err := requireOAuth2(creds)
	if err != nil {
		return models.Credentials{}, fmt.Errorf("%s: %w", p.tag, err)
	}
	if p.refresher == nil {
		return models.Credentials{}, fmt.Errorf("%s: oauth2 client is not configured", p.tag)
	}
	refreshed, err := p.refresher.Refresh(ctx, *oc)
	if err != nil {
		return models.Credentials{}, fmt.Errorf("%s: refresh: %w", p.tag, err)
	}
	return models.Credentials{Kind: models.AuthOAuth2, OAuth2: &refreshed}, nil
}
