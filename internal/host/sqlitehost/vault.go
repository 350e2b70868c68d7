package sqlitehost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/relaymail/mailcore/internal/host"
)

// Vault adapts *DB to host.SecretVault, sealing every value with
// AES-256-GCM under the configured encryption key. The teacher
// validates ENCRYPTION_KEY's length but never uses it for anything;
// this closes that gap.
type Vault struct{ db *DB }

// NewVault wraps db as a host.SecretVault.
func NewVault(db *DB) *Vault { return &Vault{db: db} }

var _ host.SecretVault = (*Vault)(nil)

func (v *Vault) Get(ctx context.Context, key string) (string, error) {
	var sealed string
	err := v.db.GetContext(ctx, &sealed, `SELECT value FROM secrets WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlitehost: vault get %s: %w", key, err)
	}
	return v.db.open(sealed)
}

func (v *Vault) Set(ctx context.Context, key, value string) error {
	sealed, err := v.db.seal(value)
	if err != nil {
		return fmt.Errorf("sqlitehost: vault seal %s: %w", key, err)
	}
	_, err = v.db.ExecContext(ctx, `
		INSERT INTO secrets (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, sealed)
	if err != nil {
		return fmt.Errorf("sqlitehost: vault set %s: %w", key, err)
	}
	return nil
}

func (v *Vault) Delete(ctx context.Context, key string) error {
	_, err := v.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("sqlitehost: vault delete %s: %w", key, err)
	}
	return nil
}
