package ingest

import (
	"context"

	"github.com/relaymail/mailcore/internal/credstore"
	"github.com/relaymail/mailcore/internal/host"
	"github.com/relaymail/mailcore/pkg/models"
)

func loadCredentials(ctx context.Context, vault host.SecretVault, accountID string) (models.Credentials, error) {
	return credstore.Load(ctx, vault, accountID)
}

func saveCredentials(ctx context.Context, vault host.SecretVault, accountID string, creds models.Credentials) error {
	return credstore.Save(ctx, vault, accountID, creds)
}
