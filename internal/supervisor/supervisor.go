// Package supervisor is spec.md §4.C10: boot every registered user's
// ingestion worker and poll job, then tear them down cleanly on
// shutdown. Grounded on cmd/bot/main.go's RestoreAll/StopAll +
// signal-handling structure, generalized from a single global
// email.Manager into one internal/ingest.Worker per registered user.
package supervisor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/relaymail/mailcore/internal/registry"
)

// Worker is the subset of *ingest.Worker the supervisor drives.
// Accepting the interface here (rather than importing internal/ingest
// directly) keeps the boot sequence decoupled from Worker's
// construction, which needs a much larger Deps than the supervisor
// itself cares about.
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerFactory builds the ingestion worker for one user. Supplied by
// the host binary, which already holds the shared Deps (providers,
// store, vault, deliverer, ...) every worker is built from.
type WorkerFactory func(userID string) Worker

// OnUserStarted, if set, runs after a user's worker goroutine is
// launched — the host binary uses it to also register the user's
// scheduler.Poller job, since Worker here is deliberately narrower
// than *ingest.Worker (which also satisfies scheduler.Trigger).
type OnUserStarted func(userID string, worker Worker)

type userRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the boot/shutdown lifecycle for every registered
// user's ingestion pipeline.
type Supervisor struct {
	registry  *registry.Registry
	newWorker WorkerFactory
	onStarted OnUserStarted
	logger    *slog.Logger

	mu    sync.Mutex
	users map[string]*userRun
	wg    sync.WaitGroup
}

func New(reg *registry.Registry, newWorker WorkerFactory, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		registry:  reg,
		newWorker: newWorker,
		logger:    logger,
		users:     map[string]*userRun{},
	}
}

// WithOnUserStarted sets the post-start hook.
func (s *Supervisor) WithOnUserStarted(fn OnUserStarted) *Supervisor {
	s.onStarted = fn
	return s
}

// Activate loads every registered user and starts their worker. It
// does not block; call Dispose (or cancel ctx) to stop everything.
func (s *Supervisor) Activate(ctx context.Context) error {
	userIDs, err := s.registry.List(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("supervisor: activating", "users", len(userIDs))
	for _, id := range userIDs {
		s.StartUser(ctx, id)
	}
	return nil
}

// StartUser boots one user's worker, e.g. right after they add their
// first enabled account. A no-op if the user is already running.
func (s *Supervisor) StartUser(parent context.Context, userID string) {
	s.mu.Lock()
	if _, running := s.users[userID]; running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	run := &userRun{cancel: cancel, done: make(chan struct{})}
	s.users[userID] = run
	s.mu.Unlock()

	worker := s.newWorker(userID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(run.done)
		if err := worker.Run(ctx); err != nil {
			s.logger.Warn("supervisor: worker exited with error", "user_id", userID, "error", err)
		}
	}()

	if s.onStarted != nil {
		s.onStarted(userID, worker)
	}
}

// StopUser tears down one user's worker, e.g. once their last enabled
// account is removed.
func (s *Supervisor) StopUser(userID string) {
	s.mu.Lock()
	run, ok := s.users[userID]
	if ok {
		delete(s.users, userID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	run.cancel()
	<-run.done
}

// Dispose cancels every running worker and waits for them to exit.
func (s *Supervisor) Dispose() {
	s.mu.Lock()
	runs := make([]*userRun, 0, len(s.users))
	for id, run := range s.users {
		runs = append(runs, run)
		delete(s.users, id)
	}
	s.mu.Unlock()

	for _, run := range runs {
		run.cancel()
	}
	s.wg.Wait()
}
