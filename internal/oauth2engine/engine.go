// Package oauth2engine implements spec.md §4.C7: the OAuth 2.0 Device
// Authorization Grant (RFC 8628) against Gmail and Outlook's device
// endpoints. It is the one component that imports golang.org/x/oauth2,
// grounded on bassamadnan-tmail's gmail/client.go usage of the same
// package in the retrieved pack — the teacher itself never does OAuth2
// since every one of its accounts is a static IMAP password.
package oauth2engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// pollCeiling matches spec.md §4.C7: "at most 60 iterations ... (≈5
// min ceiling)".
const pollCeiling = 60

// Gmail returns the device-grant *oauth2.Config for a Gmail account,
// per spec.md §4.C7's pinned endpoints and scope.
func Gmail(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: "https://oauth2.googleapis.com/device/code",
			TokenURL:      "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{"https://mail.google.com/"},
	}
}

// Outlook returns the device-grant *oauth2.Config for an Outlook
// account. Outlook's device grant does not use a client secret.
func Outlook(clientID, tenant string) *oauth2.Config {
	if tenant == "" {
		tenant = "common"
	}
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/devicecode", tenant),
			TokenURL:      fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenant),
		},
		Scopes: []string{"https://outlook.office.com/IMAP.AccessAsUser.All", "offline_access"},
	}
}

// TokenResponse is spec.md §4.C7's TokenResponse shape.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	TokenType    string
}

func fromOAuth2Token(tok *oauth2.Token) TokenResponse {
	return TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		TokenType:    tok.TokenType,
	}
}

// Initiate starts the device flow, returning the device/user codes and
// verification URI the caller shows the end user.
func Initiate(ctx context.Context, cfg *oauth2.Config) (*oauth2.DeviceAuthResponse, error) {
	resp, err := cfg.DeviceAuth(ctx, oauth2.AccessTypeOffline)
	if err != nil {
		return nil, fmt.Errorf("oauth2engine: initiate: %w", err)
	}
	return resp, nil
}

// PollAndExchange drives the pending-authorization poll loop described
// by spec.md §4.C7: it waits on the interval the server assigned,
// treating `authorization_pending`/`slow_down` as retryable (handled
// internally by DeviceAccessToken's RFC 8628 loop) and any other
// server error, or exceeding pollCeiling*interval, as fatal.
func PollAndExchange(ctx context.Context, cfg *oauth2.Config, da *oauth2.DeviceAuthResponse) (TokenResponse, error) {
	interval := da.Interval
	if interval <= 0 {
		interval = 5
	}
	ceiling := time.Duration(pollCeiling) * time.Duration(interval) * time.Second

	pollCtx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	tok, err := cfg.DeviceAccessToken(pollCtx, da)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("oauth2engine: device authorization failed: %w", err)
	}
	return fromOAuth2Token(tok), nil
}

// Refresh exchanges a stored refresh token for a fresh access token,
// preserving the incoming refresh token when the authorization server
// omits a new one (spec.md §4.C1/§4.C7 invariant).
func Refresh(ctx context.Context, cfg *oauth2.Config, refreshToken string) (TokenResponse, error) {
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return TokenResponse{}, fmt.Errorf("oauth2engine: refresh: %w", err)
	}
	out := fromOAuth2Token(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}
