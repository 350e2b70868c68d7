package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymail/mailcore/internal/bodyparse"
	"github.com/relaymail/mailcore/internal/delivery"
	"github.com/relaymail/mailcore/internal/host"
	"github.com/relaymail/mailcore/internal/host/sqlitehost"
	"github.com/relaymail/mailcore/internal/store"
	"github.com/relaymail/mailcore/pkg/models"
)

type fakeConn struct {
	msgs []*models.FetchedMessage
	err  error
}

func (f *fakeConn) SelectINBOX(ctx context.Context) error { return nil }
func (f *fakeConn) FetchSince(ctx context.Context, since, limit uint32) ([]*models.FetchedMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.msgs, nil
}
func (f *fakeConn) Close() error { return nil }

type fakeSink struct{ posted []host.Instruction }

func (f *fakeSink) AppendInstruction(ctx context.Context, instr host.Instruction) error {
	f.posted = append(f.posted, instr)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawTextMessage(body string) []byte {
	return []byte("From: a@b.com\r\nTo: c@d.com\r\nContent-Type: text/plain\r\n\r\n" + body + "\r\n")
}

func newTestWorker(t *testing.T, dial func(ctx context.Context, account *models.Account) (MailConn, error)) (*Worker, *fakeSink, *store.Store, host.Storage) {
	t.Helper()
	db, err := sqlitehost.New(context.Background(), ":memory:", make([]byte, 32))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	storage := sqlitehost.NewStorage(db)
	st := store.New(storage)
	sink := &fakeSink{}

	w := NewWorker("u1", Deps{
		Store:     st,
		Storage:   storage,
		Vault:     sqlitehost.NewVault(db),
		Deliverer: delivery.NewDeliverer(sink, discardLogger()),
		Parser:    bodyparse.New(),
		Logger:    discardLogger(),
		Dial:      dial,
	})
	return w, sink, st, storage
}

func testAccount() *models.Account {
	return &models.Account{ID: "a1", UserID: "u1", Provider: models.ProviderIMAP, DisplayName: "Test Inbox", Enabled: true, AuthKind: models.AuthPassword}
}

// TestHandleNewMail_BaselineOnFreshAccount covers scenario S1: a fresh
// account (watermark 0) claims its highest message silently and emits
// no delivery.
func TestHandleNewMail_BaselineOnFreshAccount(t *testing.T) {
	msgs := []*models.FetchedMessage{
		{UID: 1, MessageID: "<1@x>", RawRFC822: rawTextMessage("first")},
		{UID: 2, MessageID: "<2@x>", RawRFC822: rawTextMessage("second")},
	}
	w, sink, st, _ := newTestWorker(t, func(ctx context.Context, a *models.Account) (MailConn, error) {
		return &fakeConn{msgs: msgs}, nil
	})

	account := testAccount()
	w.handleNewMail(context.Background(), account)

	assert.Empty(t, sink.posted, "baseline must not deliver anything")

	wm, err := st.Watermark(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), wm, "baseline claims only the highest UID")
}

// TestHandleNewMail_SessionRestartRuleSuppressesFirstEvent covers the
// session-restart rule: even with a nonzero watermark, the first
// new-mail event in this Worker's lifetime is treated as a resync.
func TestHandleNewMail_SessionRestartRuleSuppressesFirstEvent(t *testing.T) {
	w, sink, st, _ := newTestWorker(t, func(ctx context.Context, a *models.Account) (MailConn, error) {
		return &fakeConn{msgs: []*models.FetchedMessage{{UID: 10, MessageID: "<10@x>", RawRFC822: rawTextMessage("old")}}}, nil
	})
	account := testAccount()

	// Seed a prior watermark as if the process restarted mid-flight.
	_, err := st.TryClaim(context.Background(), "a1", "<9@x>", 9)
	require.NoError(t, err)

	w.handleNewMail(context.Background(), account)
	assert.Empty(t, sink.posted, "first event after restart must not deliver")

	wm, err := st.Watermark(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, uint32(10), wm)
}

// TestHandleNewMail_DeliversAfterBaseline covers scenario S2: once
// baselined, subsequent new-mail events claim and deliver.
func TestHandleNewMail_DeliversAfterBaseline(t *testing.T) {
	w, sink, st, _ := newTestWorker(t, func(ctx context.Context, a *models.Account) (MailConn, error) {
		return &fakeConn{msgs: nil}, nil
	})
	account := testAccount()

	w.mu.Lock()
	w.baselined["a1"] = true
	w.mu.Unlock()
	_, err := st.TryClaim(context.Background(), "a1", "<1@x>", 1)
	require.NoError(t, err)

	w.dialSet(func(ctx context.Context, a *models.Account) (MailConn, error) {
		return &fakeConn{msgs: []*models.FetchedMessage{{UID: 2, MessageID: "<2@x>", RawRFC822: rawTextMessage("hello")}}}, nil
	})
	w.handleNewMail(context.Background(), account)

	require.Len(t, sink.posted, 1)
	assert.Contains(t, sink.posted[0].Text, "hello")

	wm, err := st.Watermark(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), wm)
}

// TestHandleNewMail_SkipsAlreadyClaimedMessage covers Property 1:
// a message already claimed by another caller is never redelivered.
func TestHandleNewMail_SkipsAlreadyClaimedMessage(t *testing.T) {
	w, sink, st, _ := newTestWorker(t, nil)
	account := testAccount()
	w.mu.Lock()
	w.baselined["a1"] = true
	w.mu.Unlock()

	_, err := st.TryClaim(context.Background(), "a1", "<1@x>", 1)
	require.NoError(t, err)
	claimed, err := st.TryClaim(context.Background(), "a1", "<2@x>", 2)
	require.NoError(t, err)
	require.True(t, claimed)

	w.dialSet(func(ctx context.Context, a *models.Account) (MailConn, error) {
		return &fakeConn{msgs: []*models.FetchedMessage{
			{UID: 2, MessageID: "<2@x>", RawRFC822: rawTextMessage("dup")},
			{UID: 3, MessageID: "<3@x>", RawRFC822: rawTextMessage("new")},
		}}, nil
	})
	w.handleNewMail(context.Background(), account)

	require.Len(t, sink.posted, 1, "the already-claimed message must not be redelivered")
	assert.Contains(t, sink.posted[0].Text, "new")
}

func TestHandleNewMail_ConnectFailureRecordsLastError(t *testing.T) {
	w, sink, _, storage := newTestWorker(t, func(ctx context.Context, a *models.Account) (MailConn, error) {
		return nil, errors.New("dial refused")
	})
	account := testAccount()
	require.NoError(t, storage.Put(context.Background(), accountsCollection, account.ID, account))

	w.handleNewMail(context.Background(), account)
	assert.Empty(t, sink.posted)

	var got models.Account
	require.NoError(t, storage.Get(context.Background(), accountsCollection, account.ID, &got))
	assert.Contains(t, got.LastError, "dial refused")
	require.NotNil(t, got.LastSyncAt)
	assert.WithinDuration(t, time.Now(), *got.LastSyncAt, 5*time.Second)
}

// dialSet lets a test swap the Dial hook after Worker construction.
func (w *Worker) dialSet(fn func(ctx context.Context, account *models.Account) (MailConn, error)) {
	w.deps.Dial = fn
}
