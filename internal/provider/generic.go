package provider

import (
	"context"
	"fmt"

	"github.com/relaymail/mailcore/pkg/models"
)

// genericProvider covers arbitrary IMAP servers: the account itself
// carries host/port/security (spec.md §3), auth is always password.
type genericProvider struct{}

func (genericProvider) Tag() models.Provider { return models.ProviderIMAP }

func (genericProvider) ConnectionParams(account *models.Account, creds models.Credentials) (ConnParams, error) {
	if account.IMAPHost == "" {
		return ConnParams{}, fmt.Errorf("generic imap: account.imap_host is required")
	}
	pw, err := requirePassword(creds)
	if err != nil {
		return ConnParams{}, fmt.Errorf("generic imap: %w", err)
	}

	port := account.IMAPPort
	if port == 0 {
		port = 993
	}
	security := account.Security
	if security == "" {
		security = models.SecuritySSL
	}

	return ConnParams{
		Host:     account.IMAPHost,
		Port:     port,
		Security: security,
		AuthKind: models.AuthPassword,
		Username: pw.Username,
		Password: pw.Password,
	}, nil
}

func (genericProvider) NeedsRefresh(models.Credentials) bool { return false }

func (genericProvider) Refresh(context.Context, models.Credentials) (models.Credentials, error) {
	return models.Credentials{}, fmt.Errorf("generic imap: password credentials are never refreshed")
}
