// Package sqlitehost is the reference host.Storage/host.SecretVault
// implementation: a single sqlite database whose one JSON-document
// table (documents) is keyed by (collection, id), driven through jmoiron/sqlx exactly the way the
// teacher's internal/database package does (WAL mode, foreign keys
// on, mattn/go-sqlite3).
package sqlitehost

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps sqlx.DB the way the teacher's database.DB does.
type DB struct {
	*sqlx.DB
	cipherKey []byte
}

// New opens (creating if needed) the sqlite file at path with WAL mode
// and foreign keys enabled, and runs the document-store migration.
// encryptionKey must be exactly 32 bytes; it backs the SecretVault's
// AES-256-GCM sealing.
func New(ctx context.Context, path string, encryptionKey []byte) (*DB, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("sqlitehost: encryption key must be 32 bytes, got %d", len(encryptionKey))
	}

	var dsn string
	if path == ":memory:" {
		// A bare ":memory:" DSN gives each pooled connection its own
		// database; pin the pool to a single connection so concurrent
		// callers (e.g. store.TryClaim races) see one shared database.
		dsn = "file::memory:?cache=shared&_foreign_keys=on"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlitehost: create database directory: %w", err)
		}
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	}

	sdb, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitehost: connect: %w", err)
	}
	if path == ":memory:" {
		sdb.SetMaxOpenConns(1)
	}

	db := &DB{DB: sdb, cipherKey: encryptionKey}
	if err := db.migrate(ctx); err != nil {
		sdb.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("sqlitehost: migrate: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    body       TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);

CREATE TABLE IF NOT EXISTS secrets (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

func (db *DB) seal(plaintext string) (string, error) {
	block, err := aes.NewCipher(db.cipherKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (db *DB) open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(db.cipherKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("sqlitehost: ciphertext too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
