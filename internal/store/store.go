// Package store implements spec.md §4.C5: the dedup ledger and
// derived watermark that make delivery exactly-once. It is grounded on
// the teacher's internal/database.CreateMessage (INSERT OR IGNORE +
// RowsAffected), generalized from a full message record to the
// (account, message_id) claim record spec.md §3 describes, and backed
// by internal/host.Storage rather than a direct *sql.DB so the core
// stays host-agnostic.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaymail/mailcore/internal/host"
	"github.com/relaymail/mailcore/pkg/models"
)

const collection = "processed"

// Store is the C5 dedup/watermark component.
type Store struct {
	storage host.Storage
}

// New wraps a host.Storage as the processed-message ledger.
func New(storage host.Storage) *Store {
	return &Store{storage: storage}
}

// TryClaim atomically records (accountID, messageID) as processed,
// returning claimed=false without error when another caller already
// claimed it first. This is the sole exactly-once gate: nothing may be
// delivered to the chat sink before its claim succeeds (spec.md §9,
// Property 1).
func (s *Store) TryClaim(ctx context.Context, accountID, messageID string, uid uint32) (claimed bool, err error) {
	if messageID == "" {
		return false, fmt.Errorf("store: try_claim requires a non-empty message id")
	}
	id := models.ProcessedDocID(accountID, messageID)
	rec := models.Processed{
		ID:          id,
		AccountID:   accountID,
		MessageID:   messageID,
		UID:         uid,
		ProcessedAt: time.Now().UTC(),
	}
	created, err := s.storage.TryPut(ctx, collection, id, rec)
	if err != nil {
		return false, fmt.Errorf("store: try_claim %s: %w", id, err)
	}
	return created, nil
}

// IsProcessed reports whether (accountID, messageID) was already
// claimed, without claiming it.
func (s *Store) IsProcessed(ctx context.Context, accountID, messageID string) (bool, error) {
	var rec models.Processed
	err := s.storage.Get(ctx, collection, models.ProcessedDocID(accountID, messageID), &rec)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, host.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("store: is_processed %s/%s: %w", accountID, messageID, err)
}

// Watermark returns the highest UID claimed for accountID, or 0 if
// nothing has been claimed yet. C4 uses this to bound its next
// UID SEARCH/FETCH range (spec.md §4.C4: "watermark = max(uid) over
// this account's Processed records").
func (s *Store) Watermark(ctx context.Context, accountID string) (uint32, error) {
	var recs []models.Processed
	err := s.storage.Find(ctx, collection, host.Query{"account_id": accountID}, host.FindOptions{}, &recs)
	if err != nil {
		return 0, fmt.Errorf("store: watermark %s: %w", accountID, err)
	}
	var max uint32
	for _, r := range recs {
		if r.UID > max {
			max = r.UID
		}
	}
	return max, nil
}
