package sqlitehost

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymail/mailcore/internal/host"
)

type doc struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	N     int    `json:"n"`
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(context.Background(), ":memory:", make([]byte, 32))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStorage_PutGet(t *testing.T) {
	s := NewStorage(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "accounts", "a1", doc{ID: "a1", Owner: "u1", N: 1}))

	var got doc
	require.NoError(t, s.Get(ctx, "accounts", "a1", &got))
	assert.Equal(t, "u1", got.Owner)

	err := s.Get(ctx, "accounts", "missing", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestStorage_TryPut_ClaimsOnce covers Testable Property 1: a second
// TryPut for the same id never reports created.
func TestStorage_TryPut_ClaimsOnce(t *testing.T) {
	s := NewStorage(newTestDB(t))
	ctx := context.Background()

	created, err := s.TryPut(ctx, "processed", "prc_1", doc{ID: "prc_1"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.TryPut(ctx, "processed", "prc_1", doc{ID: "prc_1", N: 99})
	require.NoError(t, err)
	assert.False(t, created)

	var got doc
	require.NoError(t, s.Get(ctx, "processed", "prc_1", &got))
	assert.Equal(t, 0, got.N, "the ignored insert must not have overwritten the first claim")
}

func TestStorage_Find_FiltersAndSorts(t *testing.T) {
	s := NewStorage(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "accounts", "a1", doc{ID: "a1", Owner: "u1", N: 3}))
	require.NoError(t, s.Put(ctx, "accounts", "a2", doc{ID: "a2", Owner: "u1", N: 1}))
	require.NoError(t, s.Put(ctx, "accounts", "a3", doc{ID: "a3", Owner: "u2", N: 5}))

	var got []doc
	require.NoError(t, s.Find(ctx, "accounts", host.Query{"owner": "u1"}, host.FindOptions{Sort: "n"}, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].ID)
	assert.Equal(t, "a1", got[1].ID)
}

func TestStorage_DeleteMany(t *testing.T) {
	s := NewStorage(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "accounts", "a1", doc{ID: "a1", Owner: "u1"}))
	require.NoError(t, s.Put(ctx, "accounts", "a2", doc{ID: "a2", Owner: "u1"}))
	require.NoError(t, s.DeleteMany(ctx, "accounts", host.Query{"owner": "u1"}))

	var got []doc
	require.NoError(t, s.Find(ctx, "accounts", host.Query{}, host.FindOptions{}, &got))
	assert.Empty(t, got)
}

func TestVault_RoundTrip(t *testing.T) {
	v := NewVault(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "acct-1/refresh_token", "super-secret"))
	got, err := v.Get(ctx, "acct-1/refresh_token")
	require.NoError(t, err)
	assert.Equal(t, "super-secret", got)

	require.NoError(t, v.Delete(ctx, "acct-1/refresh_token"))
	_, err = v.Get(ctx, "acct-1/refresh_token")
	assert.True(t, errors.Is(err, ErrNotFound))
}
