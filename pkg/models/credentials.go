package models

import "time"

// PasswordCredentials backs Account.AuthKind == AuthPassword.
type PasswordCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// OAuth2Credentials backs Account.AuthKind == AuthOAuth2.
type OAuth2Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Credentials is the tagged sum stored under vault key
// "account-<id>-credentials". Exactly one of Password/OAuth2 is set,
// matching the owning Account's AuthKind.
type Credentials struct {
	Kind     AuthKind             `json:"kind"`
	Password *PasswordCredentials `json:"password,omitempty"`
	OAuth2   *OAuth2Credentials   `json:"oauth2,omitempty"`
}

// NeedsRefreshBuffer is the lead time before expiry at which an OAuth2
// credential is considered stale (spec.md §4.C1).
const NeedsRefreshBuffer = 5 * time.Minute
