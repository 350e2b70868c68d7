// Package registry is spec.md §4.C9: the extension-scoped set of user
// ids with at least one enabled account, and the bounded in-memory
// edit-state cache the add/edit-account UI flow uses.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaymail/mailcore/internal/host"
)

const usersCollection = "users"

type userRecord struct {
	UserID       string    `json:"user_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry is a sync.Map-backed set of registered user ids, write-through
// persisted to host.Storage so membership survives a process restart.
type Registry struct {
	storage host.Storage
	cache   sync.Map // userID -> struct{}
}

func New(storage host.Storage) *Registry {
	return &Registry{storage: storage}
}

// Register marks userID as having at least one enabled account. Safe
// to call repeatedly; a re-registration is a no-op.
func (r *Registry) Register(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("registry: empty user id")
	}
	if _, loaded := r.cache.LoadOrStore(userID, struct{}{}); loaded {
		return nil
	}
	rec := userRecord{UserID: userID, RegisteredAt: time.Now().UTC()}
	if _, err := r.storage.TryPut(ctx, usersCollection, userID, rec); err != nil {
		r.cache.Delete(userID)
		return fmt.Errorf("registry: register %s: %w", userID, err)
	}
	return nil
}

// Unregister removes userID, e.g. once its last account is deleted.
func (r *Registry) Unregister(ctx context.Context, userID string) error {
	r.cache.Delete(userID)
	if err := r.storage.Delete(ctx, usersCollection, userID); err != nil {
		return fmt.Errorf("registry: unregister %s: %w", userID, err)
	}
	return nil
}

// List returns every registered user id, read from storage so it is
// correct immediately after a fresh process boot before any Register
// call has warmed the in-memory cache.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	var recs []userRecord
	if err := r.storage.Find(ctx, usersCollection, nil, host.FindOptions{}, &recs); err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.UserID
		r.cache.Store(rec.UserID, struct{}{})
	}
	return ids, nil
}

// Contains checks the in-memory cache only; call List first after a
// fresh boot to warm it.
func (r *Registry) Contains(userID string) bool {
	_, ok := r.cache.Load(userID)
	return ok
}
