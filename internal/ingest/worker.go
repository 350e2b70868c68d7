// Package ingest implements spec.md §4.C4: the per-user ingestion
// worker that supervises one IDLE session per enabled account plus a
// token-refresh loop, and drives the exactly-once new-mail path shared
// by both IDLE pushes and the poll-scheduler backstop (§4.C8).
//
// Grounded on the teacher's internal/email/manager.go (Manager,
// clientWrapper, runClient/fetchNewMessages/RestoreAll/StopAll),
// generalized from a flat map[accountID]*clientWrapper into a
// per-user supervisor and split into the two cooperative activities
// spec.md §4.C4 names.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaymail/mailcore/internal/bodyparse"
	"github.com/relaymail/mailcore/internal/delivery"
	"github.com/relaymail/mailcore/internal/host"
	"github.com/relaymail/mailcore/internal/idle"
	"github.com/relaymail/mailcore/internal/imapconn"
	"github.com/relaymail/mailcore/internal/provider"
	"github.com/relaymail/mailcore/internal/store"
	"github.com/relaymail/mailcore/pkg/models"
)

const (
	accountsCollection = "accounts"
	settingsCollection = "settings"
)

// MailConn is the subset of *imapconn.Connector a fetch-once call
// needs. Ingest depends on this interface rather than the concrete
// type so tests can substitute a fake IMAP connection; the real
// dependency (Deps.Dial's default) is *imapconn.Connector itself.
type MailConn interface {
	SelectINBOX(ctx context.Context) error
	FetchSince(ctx context.Context, since, limit uint32) ([]*models.FetchedMessage, error)
	Close() error
}

// connectorAdapter satisfies MailConn over a real *imapconn.Connector,
// discarding the *imap.MailboxStatus the ingestion path never reads.
type connectorAdapter struct{ *imapconn.Connector }

func (c connectorAdapter) SelectINBOX(ctx context.Context) error {
	_, err := c.Connector.SelectINBOX(ctx)
	return err
}

// Deps bundles every collaborator a Worker needs. Dial may be left nil
// to use the real IMAP dialer; tests set it to a fake.
type Deps struct {
	Providers         *provider.Registry
	Store             *store.Store
	Storage           host.Storage
	Vault             host.SecretVault
	Deliverer         *delivery.Deliverer
	Parser            *bodyparse.Parser
	IdleOptions       idle.Options
	ConnectTimeouts   imapconn.Timeouts
	TokenRefreshEvery time.Duration
	FetchLimit        uint32
	Logger            *slog.Logger
	Dial              func(ctx context.Context, account *models.Account) (MailConn, error)
}

func (d Deps) withDefaults() Deps {
	if d.TokenRefreshEvery <= 0 {
		d.TokenRefreshEvery = 30 * time.Minute
	}
	if d.FetchLimit == 0 {
		d.FetchLimit = 50
	}
	return d
}

type accountRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Worker is the C4 per-user supervisor.
type Worker struct {
	userID string
	deps   Deps
	logger *slog.Logger

	mu        sync.Mutex
	baselined map[string]bool
	accounts  map[string]*accountRun

	wg sync.WaitGroup
}

// NewWorker constructs the supervisor for one user.
func NewWorker(userID string, deps Deps) *Worker {
	deps = deps.withDefaults()
	w := &Worker{
		userID:    userID,
		deps:      deps,
		logger:    deps.Logger.With("component", "ingest_worker", "user_id", userID),
		baselined: make(map[string]bool),
		accounts:  make(map[string]*accountRun),
	}
	if w.deps.Dial == nil {
		w.deps.Dial = w.realDial
	}
	return w
}

func (w *Worker) realDial(ctx context.Context, account *models.Account) (MailConn, error) {
	conn, err := w.freshConnector(ctx, account)
	if err != nil {
		return nil, err
	}
	return connectorAdapter{conn}, nil
}

// Run starts one supervised goroutine pair per enabled account plus
// the token-refresh loop, and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	accounts, err := w.loadEnabledAccounts(ctx)
	if err != nil {
		return fmt.Errorf("ingest: load accounts for user %s: %w", w.userID, err)
	}
	for _, a := range accounts {
		w.startAccount(ctx, a)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.refreshLoop(ctx)
	}()

	<-ctx.Done()
	w.stopAll()
	w.wg.Wait()
	return ctx.Err()
}

// TriggerAccount drives the same new-mail path as an IDLE push, for
// the poll scheduler's backstop (spec.md §4.C8).
func (w *Worker) TriggerAccount(ctx context.Context, accountID string) error {
	var account models.Account
	if err := w.deps.Storage.Get(ctx, accountsCollection, accountID, &account); err != nil {
		return fmt.Errorf("ingest: trigger %s: %w", accountID, err)
	}
	if !account.Enabled {
		return nil
	}
	w.handleNewMail(ctx, &account)
	return nil
}

func (w *Worker) loadEnabledAccounts(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	err := w.deps.Storage.Find(ctx, accountsCollection, host.Query{"user_id": w.userID, "enabled": true}, host.FindOptions{}, &accounts)
	return accounts, err
}

func (w *Worker) startAccount(parent context.Context, account *models.Account) {
	acctCtx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	w.mu.Lock()
	w.accounts[account.ID] = &accountRun{cancel: cancel, done: done}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(done)
		w.runAccount(acctCtx, account)
	}()
}

// restartAccount tears down the running session for account (if any)
// and starts a fresh one — used after a token refresh so IDLE dials
// again with the new access token (spec.md §4.C4.b).
func (w *Worker) restartAccount(parent context.Context, account *models.Account) {
	w.mu.Lock()
	run, ok := w.accounts[account.ID]
	w.mu.Unlock()
	if ok {
		run.cancel()
		<-run.done
	}
	w.startAccount(parent, account)
}

func (w *Worker) stopAll() {
	w.mu.Lock()
	runs := make([]*accountRun, 0, len(w.accounts))
	for _, r := range w.accounts {
		runs = append(runs, r)
	}
	w.mu.Unlock()
	for _, r := range runs {
		r.cancel()
	}
}

// runAccount pairs the IDLE transport with its new-mail consumer via
// errgroup, so a session death or ctx cancellation cleanly stops both
// without taking any other account down (spec.md §4.C4: "other
// accounts continue").
func (w *Worker) runAccount(ctx context.Context, account *models.Account) {
	session := idle.New(account.ID, w.dialerFor(account), w.deps.IdleOptions, w.logger)

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		session.Run(egctx)
		return nil
	})
	eg.Go(func() error {
		for {
			select {
			case <-egctx.Done():
				return nil
			case <-session.Dead():
				w.recordError(context.Background(), account, fmt.Errorf("idle session dead after max reconnects"))
				return nil
			case <-session.NewMail():
				w.handleNewMail(ctx, account)
			}
		}
	})
	eg.Wait()
}

func (w *Worker) dialerFor(account *models.Account) idle.Dialer {
	return func(ctx context.Context) (*imapconn.Connector, error) {
		return w.freshConnector(ctx, account)
	}
}

func (w *Worker) freshConnector(ctx context.Context, account *models.Account) (*imapconn.Connector, error) {
	creds, err := loadCredentials(ctx, w.deps.Vault, account.ID)
	if err != nil {
		return nil, err
	}
	p, err := w.deps.Providers.Resolve(account.Provider)
	if err != nil {
		return nil, err
	}
	params, err := p.ConnectionParams(account, creds)
	if err != nil {
		return nil, fmt.Errorf("ingest: connection params for %s: %w", account.ID, err)
	}
	conn := imapconn.New(params, w.deps.ConnectTimeouts)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// handleNewMail is spec.md §4.C4.a: the baseline/session-restart rules
// followed by the try_claim-then-deliver loop.
func (w *Worker) handleNewMail(ctx context.Context, account *models.Account) {
	conn, err := w.deps.Dial(ctx, account)
	if err != nil {
		w.recordError(ctx, account, err)
		return
	}
	defer conn.Close()

	if err := conn.SelectINBOX(ctx); err != nil {
		w.recordError(ctx, account, err)
		return
	}

	since, err := w.deps.Store.Watermark(ctx, account.ID)
	if err != nil {
		w.recordError(ctx, account, err)
		return
	}

	w.mu.Lock()
	alreadyBaselined := w.baselined[account.ID]
	w.mu.Unlock()

	if since == 0 || !alreadyBaselined {
		w.baseline(ctx, account)
		w.mu.Lock()
		w.baselined[account.ID] = true
		w.mu.Unlock()
		return
	}

	msgs, err := conn.FetchSince(ctx, since, w.deps.FetchLimit)
	if err != nil {
		w.recordError(ctx, account, err)
		return
	}

	instruction := w.loadInstruction(ctx, account.UserID)
	for _, fm := range msgs {
		claimed, err := w.deps.Store.TryClaim(ctx, account.ID, fm.MessageID, fm.UID)
		if err != nil {
			w.logger.Warn("ingest: try_claim failed", "account_id", account.ID, "message_id", fm.MessageID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		parsed, err := w.deps.Parser.Parse(fm)
		if err != nil {
			w.logger.Warn("ingest: parse failed", "account_id", account.ID, "message_id", fm.MessageID, "error", err)
			continue
		}
		_ = w.deps.Deliverer.Deliver(ctx, account.UserID, account.DisplayName, instruction, parsed)
	}

	w.touchAccount(ctx, account, nil)
}

// baseline implements the "fetch latest, mark only the highest UID as
// processed, emit no notifications" rule shared by a fresh account
// (watermark 0) and the first new-mail event after process restart.
func (w *Worker) baseline(ctx context.Context, account *models.Account) {
	msgs, err := (func() ([]*models.FetchedMessage, error) {
		conn, err := w.deps.Dial(ctx, account)
		if err != nil {
			return nil, err
		}
		defer conn.Close()
		if err := conn.SelectINBOX(ctx); err != nil {
			return nil, err
		}
		return conn.FetchSince(ctx, 0, 1)
	})()
	if err != nil {
		w.recordError(ctx, account, err)
		return
	}
	if len(msgs) > 0 {
		latest := msgs[len(msgs)-1]
		if _, err := w.deps.Store.TryClaim(ctx, account.ID, latest.MessageID, latest.UID); err != nil {
			w.logger.Warn("ingest: baseline claim failed", "account_id", account.ID, "error", err)
		}
	}
	w.touchAccount(ctx, account, nil)
}

func (w *Worker) loadInstruction(ctx context.Context, userID string) string {
	var settings models.Settings
	if err := w.deps.Storage.Get(ctx, settingsCollection, userID, &settings); err != nil {
		return ""
	}
	return settings.Instruction
}

func (w *Worker) touchAccount(ctx context.Context, account *models.Account, cause error) {
	now := time.Now().UTC()
	account.LastSyncAt = &now
	if cause != nil {
		account.LastError = cause.Error()
	} else {
		account.LastError = ""
	}
	account.UpdatedAt = now
	if err := w.deps.Storage.Put(ctx, accountsCollection, account.ID, account); err != nil {
		w.logger.Warn("ingest: persist account state failed", "account_id", account.ID, "error", err)
	}
}

func (w *Worker) recordError(ctx context.Context, account *models.Account, cause error) {
	w.logger.Warn("ingest: account error", "account_id", account.ID, "error", cause)
	w.touchAccount(ctx, account, cause)
}

// refreshLoop is spec.md §4.C4.b: every TokenRefreshEvery, refresh any
// OAuth2 account whose token needs it, persist the new credentials,
// and restart its IDLE session against the fresh token.
func (w *Worker) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(w.deps.TokenRefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refreshAllOAuthAccounts(ctx)
		}
	}
}

func (w *Worker) refreshAllOAuthAccounts(ctx context.Context) {
	accounts, err := w.loadEnabledAccounts(ctx)
	if err != nil {
		w.logger.Warn("ingest: refresh loop: load accounts failed", "error", err)
		return
	}
	for _, account := range accounts {
		if account.AuthKind != models.AuthOAuth2 {
			continue
		}
		creds, err := loadCredentials(ctx, w.deps.Vault, account.ID)
		if err != nil {
			w.logger.Warn("ingest: refresh loop: load credentials failed", "account_id", account.ID, "error", err)
			continue
		}
		p, err := w.deps.Providers.Resolve(account.Provider)
		if err != nil {
			continue
		}
		if !p.NeedsRefresh(creds) {
			continue
		}
		newCreds, err := p.Refresh(ctx, creds)
		if err != nil {
			w.logger.Warn("ingest: token refresh failed, retrying next tick", "account_id", account.ID, "error", err)
			continue
		}
		if err := saveCredentials(ctx, w.deps.Vault, account.ID, newCreds); err != nil {
			w.logger.Warn("ingest: persist refreshed credentials failed", "account_id", account.ID, "error", err)
			continue
		}
		w.restartAccount(ctx, account)
	}
}
