// Package provider implements the per-provider capability spec.md
// §4.C1 describes: a small interface plus one value per provider,
// instead of a class hierarchy.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/relaymail/mailcore/pkg/models"
)

// ConnParams is what internal/imapconn needs to dial and authenticate.
type ConnParams struct {
	Host     string
	Port     int
	Security models.Security
	AuthKind models.AuthKind
	// Username/Password are set for AuthPassword; AccessToken/Email
	// are set for AuthOAuth2 (XOAUTH2 needs both the mailbox address
	// and the bearer token).
	Username    string
	Password    string
	Email       string
	AccessToken string
}

// Refresher exchanges a refresh token for a new access token. Only
// OAuth2 providers implement meaningful behavior; see Provider.Refresh.
type Refresher interface {
	Refresh(ctx context.Context, creds models.OAuth2Credentials) (models.OAuth2Credentials, error)
}

// Provider is the capability interface spec.md §9 asks for: no
// inheritance, just the three operations every variant must answer.
type Provider interface {
	Tag() models.Provider
	// ConnectionParams fails when the credential type mismatches what
	// this provider requires.
	ConnectionParams(account *models.Account, creds models.Credentials) (ConnParams, error)
	NeedsRefresh(creds models.Credentials) bool
	Refresh(ctx context.Context, creds models.Credentials) (models.Credentials, error)
}

// Registry resolves a models.Provider tag to its Provider value.
type Registry struct {
	byTag map[models.Provider]Provider
}

// NewRegistry wires the four fixed providers spec.md §4.C1 names.
// oauthGmail/oauthOutlook may be nil when the corresponding OAuth2
// client isn't configured; Refresh then fails fast for those providers
// with an "oauth2 client is not configured" error instead of panicking.
func NewRegistry(oauthGmail, oauthOutlook Refresher) *Registry {
	r := &Registry{byTag: make(map[models.Provider]Provider)}
	r.byTag[models.ProviderICloud] = icloudProvider{}
	r.byTag[models.ProviderGmail] = oauthProvider{tag: models.ProviderGmail, host: "imap.gmail.com", port: 993, refresher: oauthGmail}
	r.byTag[models.ProviderOutlook] = oauthProvider{tag: models.ProviderOutlook, host: "outlook.office365.com", port: 993, refresher: oauthOutlook}
	r.byTag[models.ProviderIMAP] = genericProvider{}
	return r
}

// Resolve looks up the Provider for a tag.
func (r *Registry) Resolve(tag models.Provider) (Provider, error) {
	p, ok := r.byTag[tag]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", tag)
	}
	return p, nil
}

func requirePassword(creds models.Credentials) (*models.PasswordCredentials, error) {
	if creds.Kind != models.AuthPassword || creds.Password == nil {
		return nil, fmt.Errorf("provider requires password credentials, got %q", creds.Kind)
	}
	return creds.Password, nil
}

func requireOAuth2(creds models.Credentials) (*models.OAuth2Credentials, error) {
	if creds.Kind != models.AuthOAuth2 || creds.OAuth2 == nil {
		return nil, fmt.Errorf("provider requires oauth2 credentials, got %q", creds.Kind)
	}
	return creds.OAuth2, nil
}

func oauthNeedsRefresh(creds models.Credentials) bool {
	if creds.Kind != models.AuthOAuth2 || creds.OAuth2 == nil {
		return false
	}
	return !time.Now().Before(creds.OAuth2.ExpiresAt.Add(-models.NeedsRefreshBuffer))
}
