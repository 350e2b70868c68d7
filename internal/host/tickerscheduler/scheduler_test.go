package tickerscheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymail/mailcore/internal/host"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSchedule_FiresRepeatedlyUntilCancelled(t *testing.T) {
	s := New(discardLogger())

	var mu sync.Mutex
	var fires []host.FirePayload
	s.OnFire(func(ctx context.Context, p host.FirePayload) {
		mu.Lock()
		fires = append(fires, p)
		mu.Unlock()
	})

	require.NoError(t, s.Schedule(context.Background(), host.ScheduleSpec{ID: "poll:u1", Interval: 10 * time.Millisecond, UserID: "u1"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fires) >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Cancel(context.Background(), "poll:u1"))

	mu.Lock()
	countAfterCancel := len(fires)
	mu.Unlock()

	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, countAfterCancel, len(fires), "no fires should arrive after cancel")
	assert.Equal(t, "u1", fires[0].UserID)
	assert.Equal(t, "poll:u1", fires[0].JobID)
}

func TestSchedule_RejectsZeroInterval(t *testing.T) {
	s := New(discardLogger())
	err := s.Schedule(context.Background(), host.ScheduleSpec{ID: "x", Interval: 0})
	assert.Error(t, err)
}

func TestSchedule_ReplacesExistingJobWithSameID(t *testing.T) {
	s := New(discardLogger())
	var mu sync.Mutex
	var fires int
	s.OnFire(func(ctx context.Context, p host.FirePayload) {
		mu.Lock()
		fires++
		mu.Unlock()
	})

	require.NoError(t, s.Schedule(context.Background(), host.ScheduleSpec{ID: "j", Interval: time.Hour}))
	require.NoError(t, s.Schedule(context.Background(), host.ScheduleSpec{ID: "j", Interval: 10 * time.Millisecond}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fires >= 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Cancel(context.Background(), "j"))
}
