// Package tickerscheduler is a reference host.Scheduler built on
// time.Ticker, generalized from the teacher's IdleClient.pollFallback
// poll loop (one ticker, one stop channel) into a registry of
// independently cancelable per-job tickers.
package tickerscheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaymail/mailcore/internal/host"
)

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler runs one goroutine + time.Ticker per registered job.
type Scheduler struct {
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job
	cb   host.FireFunc
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger, jobs: map[string]*job{}}
}

func (s *Scheduler) OnFire(cb host.FireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
}

func (s *Scheduler) Schedule(ctx context.Context, spec host.ScheduleSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("tickerscheduler: job id required")
	}
	if spec.Interval <= 0 {
		return fmt.Errorf("tickerscheduler: interval must be positive, got %s", spec.Interval)
	}

	s.mu.Lock()
	if existing, ok := s.jobs[spec.ID]; ok {
		existing.cancel()
		<-existing.done
	}
	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{cancel: cancel, done: make(chan struct{})}
	s.jobs[spec.ID] = j
	s.mu.Unlock()

	go s.run(jobCtx, j, spec)
	return nil
}

func (s *Scheduler) run(ctx context.Context, j *job, spec host.ScheduleSpec) {
	defer close(j.done)
	ticker := time.NewTicker(spec.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			cb := s.cb
			s.mu.Unlock()
			if cb == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.logger.Warn("tickerscheduler: fire callback panicked", "job_id", spec.ID, "recovered", r)
					}
				}()
				cb(ctx, host.FirePayload{JobID: spec.ID, UserID: spec.UserID})
			}()
		}
	}
}

func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	j.cancel()
	<-j.done
	return nil
}
