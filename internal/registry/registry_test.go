package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymail/mailcore/internal/host/sqlitehost"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := sqlitehost.New(context.Background(), ":memory:", make([]byte, 32))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlitehost.NewStorage(db))
}

func TestRegister_IsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "u1"))
	require.NoError(t, r.Register(ctx, "u1"))

	ids, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)
}

func TestUnregister_RemovesUser(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "u1"))
	require.NoError(t, r.Unregister(ctx, "u1"))

	ids, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.False(t, r.Contains("u1"))
}

func TestList_WarmsCacheFromStorage(t *testing.T) {
	db, err := sqlitehost.New(context.Background(), ":memory:", make([]byte, 32))
	require.NoError(t, err)
	defer db.Close()
	storage := sqlitehost.NewStorage(db)

	seed := New(storage)
	require.NoError(t, seed.Register(context.Background(), "u1"))

	fresh := New(storage)
	assert.False(t, fresh.Contains("u1"), "fresh registry has a cold cache before List")

	ids, err := fresh.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)
	assert.True(t, fresh.Contains("u1"))
}
