package supervisor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymail/mailcore/internal/host/sqlitehost"
	"github.com/relaymail/mailcore/internal/registry"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeWorker struct {
	started chan struct{}
	stopped chan struct{}
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{started: make(chan struct{}), stopped: make(chan struct{})}
}

func (w *fakeWorker) Run(ctx context.Context) error {
	close(w.started)
	<-ctx.Done()
	close(w.stopped)
	return nil
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	db, err := sqlitehost.New(context.Background(), ":memory:", make([]byte, 32))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return registry.New(sqlitehost.NewStorage(db))
}

func TestActivate_StartsOneWorkerPerRegisteredUser(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, "u1"))
	require.NoError(t, reg.Register(ctx, "u2"))

	var mu sync.Mutex
	workers := map[string]*fakeWorker{}
	s := New(reg, func(userID string) Worker {
		w := newFakeWorker()
		mu.Lock()
		workers[userID] = w
		mu.Unlock()
		return w
	}, discardLogger())

	require.NoError(t, s.Activate(ctx))

	mu.Lock()
	require.Len(t, workers, 2)
	mu.Unlock()

	for _, w := range workers {
		select {
		case <-w.started:
		case <-time.After(time.Second):
			t.Fatal("worker never started")
		}
	}

	s.Dispose()
	for _, w := range workers {
		select {
		case <-w.stopped:
		case <-time.After(time.Second):
			t.Fatal("worker never stopped")
		}
	}
}

func TestStartUser_IsIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	var calls int
	var mu sync.Mutex
	s := New(reg, func(userID string) Worker {
		mu.Lock()
		calls++
		mu.Unlock()
		return newFakeWorker()
	}, discardLogger())

	s.StartUser(context.Background(), "u1")
	s.StartUser(context.Background(), "u1")

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()

	s.Dispose()
}

func TestStopUser_CancelsOnlyThatUser(t *testing.T) {
	reg := newTestRegistry(t)
	w1, w2 := newFakeWorker(), newFakeWorker()
	s := New(reg, func(userID string) Worker {
		if userID == "u1" {
			return w1
		}
		return w2
	}, discardLogger())

	s.StartUser(context.Background(), "u1")
	s.StartUser(context.Background(), "u2")
	<-w1.started
	<-w2.started

	s.StopUser("u1")
	select {
	case <-w1.stopped:
	case <-time.After(time.Second):
		t.Fatal("u1 worker never stopped")
	}

	select {
	case <-w2.stopped:
		t.Fatal("u2 worker should still be running")
	case <-time.After(20 * time.Millisecond):
	}

	s.Dispose()
}

func TestOnUserStarted_FiresAfterLaunch(t *testing.T) {
	reg := newTestRegistry(t)
	var got string
	s := New(reg, func(userID string) Worker { return newFakeWorker() }, discardLogger()).
		WithOnUserStarted(func(userID string, worker Worker) { got = userID })

	s.StartUser(context.Background(), "u1")
	assert.Equal(t, "u1", got)
	s.Dispose()
}
