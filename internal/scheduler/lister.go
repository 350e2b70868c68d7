package scheduler

import (
	"context"

	"github.com/relaymail/mailcore/internal/host"
	"github.com/relaymail/mailcore/pkg/models"
)

const accountsCollection = "accounts"

// StorageLister implements AccountLister directly against host.Storage.
type StorageLister struct {
	storage host.Storage
}

func NewStorageLister(storage host.Storage) *StorageLister {
	return &StorageLister{storage: storage}
}

func (l *StorageLister) EnabledAccountIDs(ctx context.Context, userID string) ([]string, error) {
	var accounts []*models.Account
	if err := l.storage.Find(ctx, accountsCollection, host.Query{"user_id": userID, "enabled": true}, host.FindOptions{}, &accounts); err != nil {
		return nil, err
	}
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	return ids, nil
}
