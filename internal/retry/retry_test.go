package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticNetErr struct{ timeout bool }

func (e staticNetErr) Error() string   { return "static net error" }
func (e staticNetErr) Timeout() bool   { return e.timeout }
func (e staticNetErr) Temporary() bool { return e.timeout }

var _ net.Error = staticNetErr{}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(staticNetErr{timeout: true}))
	assert.True(t, IsTransient(errors.New("connection reset by peer")))
	assert.True(t, IsTransient(errors.New("socket hang up")))
	assert.False(t, IsTransient(errors.New("authentication failed")))
	assert.False(t, IsTransient(nil))
}

// TestDo_RetriesTransientOnly covers Testable Property 6: every
// non-transient error fails on the first attempt.
func TestDo_RetriesTransientOnly(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Options{MaxAttempts: 3, Base: time.Millisecond, Jitter: time.Millisecond}, func(context.Context) error {
		attempts++
		return errors.New("authentication failed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "non-transient errors must not be retried")
}

func TestDo_RetriesUpToMaxAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Options{MaxAttempts: 3, Base: time.Millisecond, Jitter: time.Millisecond}, func(context.Context) error {
		attempts++
		return errors.New("connection reset")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_SucceedsAfterTransientRetry(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Options{MaxAttempts: 3, Base: time.Millisecond, Jitter: time.Millisecond}, func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("timeout")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, Options{MaxAttempts: 3, Base: 50 * time.Millisecond}, func(context.Context) error {
		attempts++
		return errors.New("timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
