package idle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaymail/mailcore/internal/imapconn"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestSession_DeadAfterMaxReconnects covers spec.md §4.C3: "after 5
// failures the session transitions to Dead and the supervisor is
// notified."
func TestSession_DeadAfterMaxReconnects(t *testing.T) {
	attempts := 0
	dial := func(ctx context.Context) (*imapconn.Connector, error) {
		attempts++
		return nil, errors.New("dial refused")
	}

	s := New("acct-1", dial, Options{BackoffWait: time.Millisecond, MaxReconnects: 3}, discardLogger())

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-s.Dead():
	case <-time.After(2 * time.Second):
		t.Fatal("session never went Dead")
	}
	<-done

	assert.Equal(t, StateDead, s.State())
	assert.Equal(t, 4, attempts, "should try the initial connect plus MaxReconnects retries")
}

// TestSession_StopsOnCancel covers the "any -> Stopped (supervisor
// cancel)" transition, honored within the backoff wait interval.
func TestSession_StopsOnCancel(t *testing.T) {
	dial := func(ctx context.Context) (*imapconn.Connector, error) {
		return nil, errors.New("dial refused")
	}

	s := New("acct-1", dial, Options{BackoffWait: time.Hour, MaxReconnects: 5}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not honor cancellation within the wait interval")
	}
	assert.Equal(t, StateStopped, s.State())
}
