// Package scheduler is spec.md §4.C8: a per-user poll job that
// backstops IDLE by periodically driving the same new-mail path IDLE
// would have pushed, in case a session silently stalled.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaymail/mailcore/internal/host"
)

const defaultPollInterval = 5 * time.Minute

// AccountLister resolves the enabled account ids a poll tick should
// cover for one user.
type AccountLister interface {
	EnabledAccountIDs(ctx context.Context, userID string) ([]string, error)
}

// Trigger drives one account's new-mail path as if IDLE had pushed it.
// *ingest.Worker satisfies this without internal/scheduler importing
// internal/ingest, keeping the dependency edge in the direction
// spec.md §5's component graph draws it (C8 -> C4, never the reverse).
type Trigger interface {
	TriggerAccount(ctx context.Context, accountID string) error
}

// Poller registers one interval job per user against a host.Scheduler
// and dispatches its fires to that user's ingestion Worker.
type Poller struct {
	sched    host.Scheduler
	accounts AccountLister
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	workers map[string]Trigger
}

func New(sched host.Scheduler, accounts AccountLister, logger *slog.Logger) *Poller {
	p := &Poller{sched: sched, accounts: accounts, interval: defaultPollInterval, logger: logger, workers: map[string]Trigger{}}
	sched.OnFire(p.onFire)
	return p
}

// WithInterval overrides the default 5-minute backstop period.
func (p *Poller) WithInterval(d time.Duration) *Poller {
	p.interval = d
	return p
}

func jobID(userID string) string { return "poll:" + userID }

// RegisterUser schedules the poll job for a user and remembers which
// Worker its fires should drive. Safe to call again to rebind after a
// Worker restart.
func (p *Poller) RegisterUser(ctx context.Context, userID string, worker Trigger) error {
	p.mu.Lock()
	p.workers[userID] = worker
	p.mu.Unlock()

	if err := p.sched.Schedule(ctx, host.ScheduleSpec{ID: jobID(userID), Interval: p.interval, UserID: userID}); err != nil {
		return fmt.Errorf("scheduler: register poll job for %s: %w", userID, err)
	}
	return nil
}

// UnregisterUser cancels a user's poll job, e.g. when their last
// account is disabled.
func (p *Poller) UnregisterUser(ctx context.Context, userID string) error {
	p.mu.Lock()
	delete(p.workers, userID)
	p.mu.Unlock()
	return p.sched.Cancel(ctx, jobID(userID))
}

func (p *Poller) onFire(ctx context.Context, payload host.FirePayload) {
	p.mu.Lock()
	worker, ok := p.workers[payload.UserID]
	p.mu.Unlock()
	if !ok {
		return
	}

	ids, err := p.accounts.EnabledAccountIDs(ctx, payload.UserID)
	if err != nil {
		p.logger.Warn("scheduler: list enabled accounts failed", "user_id", payload.UserID, "error", err)
		return
	}
	for _, id := range ids {
		if err := worker.TriggerAccount(ctx, id); err != nil {
			p.logger.Warn("scheduler: poll trigger failed", "user_id", payload.UserID, "account_id", id, "error", err)
		}
	}
}
