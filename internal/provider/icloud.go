package provider

import (
	"context"
	"fmt"

	"github.com/relaymail/mailcore/pkg/models"
)

// icloudProvider is the fixed iCloud endpoint from spec.md §4.C1:
// imap.mail.me.com:993/ssl with an app-specific password.
type icloudProvider struct{}

func (icloudProvider) Tag() models.Provider { return models.ProviderICloud }

func (icloudProvider) ConnectionParams(account *models.Account, creds models.Credentials) (ConnParams, error) {
	pw, err := requirePassword(creds)
	if err != nil {
		return ConnParams{}, fmt.Errorf("icloud: %w", err)
	}
	return ConnParams{
		Host:     "imap.mail.me.com",
		Port:     993,
		Security: models.SecuritySSL,
		AuthKind: models.AuthPassword,
		Username: pw.Username,
		Password: pw.Password,
	}, nil
}

func (icloudProvider) NeedsRefresh(models.Credentials) bool { return false }

func (icloudProvider) Refresh(context.Context, models.Credentials) (models.Credentials, error) {
	return models.Credentials{}, fmt.Errorf("icloud: password credentials are never refreshed")
}
