// Package credstore is the single place that knows how an account's
// credentials are keyed and encoded inside a host.SecretVault, shared
// by internal/ingest (which reads them to dial IMAP) and
// internal/tools (which writes them when an account is added,
// updated, or refreshed).
package credstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaymail/mailcore/internal/host"
	"github.com/relaymail/mailcore/pkg/models"
)

// Key returns the vault key an account's credentials are stored under.
func Key(accountID string) string {
	return fmt.Sprintf("account-%s-credentials", accountID)
}

// Load decodes an account's credentials out of the vault.
func Load(ctx context.Context, vault host.SecretVault, accountID string) (models.Credentials, error) {
	raw, err := vault.Get(ctx, Key(accountID))
	if err != nil {
		return models.Credentials{}, fmt.Errorf("credstore: load credentials for %s: %w", accountID, err)
	}
	var creds models.Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return models.Credentials{}, fmt.Errorf("credstore: decode credentials for %s: %w", accountID, err)
	}
	return creds, nil
}

// Save encodes and stores an account's credentials in the vault.
func Save(ctx context.Context, vault host.SecretVault, accountID string, creds models.Credentials) error {
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("credstore: encode credentials for %s: %w", accountID, err)
	}
	if err := vault.Set(ctx, Key(accountID), string(raw)); err != nil {
		return fmt.Errorf("credstore: save credentials for %s: %w", accountID, err)
	}
	return nil
}

// Delete removes an account's credentials, e.g. on account deletion.
func Delete(ctx context.Context, vault host.SecretVault, accountID string) error {
	if err := vault.Delete(ctx, Key(accountID)); err != nil {
		return fmt.Errorf("credstore: delete credentials for %s: %w", accountID, err)
	}
	return nil
}
