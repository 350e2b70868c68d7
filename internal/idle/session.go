// Package idle implements the per-account IDLE state machine from
// spec.md §4.C3:
//
//	Idle -> Connected -> Locked -> Idling
//	Idling -> Idling (EXISTS event, 25m refresh)
//	Idling -> Backoff -> Connected (retry) | Dead (more than MaxReconnects failures; 6 with the default 5)
//	any -> Stopped (cancel)
//
// It is built directly on github.com/emersion/go-imap/client's Idle
// support (Idle + Updates), unlike the teacher's polling stand-in — see
// DESIGN.md's C3 entry for why that substitution was made.
package idle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	imapclient "github.com/emersion/go-imap/client"

	"github.com/relaymail/mailcore/internal/imapconn"
)

// State is one node of the IDLE state machine.
type State int

const (
	StateIdle State = iota
	StateConnected
	StateLocked
	StateIdling
	StateBackoff
	StateDead
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateLocked:
		return "locked"
	case StateIdling:
		return "idling"
	case StateBackoff:
		return "backoff"
	case StateDead:
		return "dead"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options tunes the session's timers, defaulting to spec.md §4.C3's
// literal values (25m refresh, 5s backoff, 5 reconnect attempts).
type Options struct {
	RefreshEvery  time.Duration
	BackoffWait   time.Duration
	MaxReconnects int
}

func (o Options) withDefaults() Options {
	if o.RefreshEvery <= 0 {
		o.RefreshEvery = 25 * time.Minute
	}
	if o.BackoffWait <= 0 {
		o.BackoffWait = 5 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 5
	}
	return o
}

// Dialer builds a fresh connector for (re)connect attempts. Sessions
// never reuse a Connector across a reconnect: a new socket needs a new
// wrapper (spec.md §5: "no other component dials the same socket").
type Dialer func(ctx context.Context) (*imapconn.Connector, error)

// Session drives one account's IDLE lifecycle. It emits a coalesced
// new-mail signal on NewMail and reports terminal death on Dead.
type Session struct {
	accountID string
	dial      Dialer
	opts      Options
	logger    *slog.Logger

	newMail chan struct{}
	dead    chan struct{}

	mu         sync.Mutex
	state      State
	conn       *imapconn.Connector
	reconnects int
}

// New constructs a Session. Call Run in its own goroutine.
func New(accountID string, dial Dialer, opts Options, logger *slog.Logger) *Session {
	return &Session{
		accountID: accountID,
		dial:      dial,
		opts:      opts.withDefaults(),
		logger:    logger.With("account_id", accountID, "component", "idle_session"),
		newMail:   make(chan struct{}, 1),
		dead:      make(chan struct{}),
		state:     StateIdle,
	}
}

// NewMail signals a coalesced "there may be new mail" event: bursts of
// EXISTS collapse into a single pending signal, since dedup happens
// downstream (spec.md §9).
func (s *Session) NewMail() <-chan struct{} { return s.newMail }

// Dead closes when the session gives up: once the failures since the
// last clean IDLE refresh exceed MaxReconnects (the first attempt plus
// MaxReconnects retries all failed).
func (s *Session) Dead() <-chan struct{} { return s.dead }

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State reports the current node, for tests and health reporting.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) signalNewMail() {
	select {
	case s.newMail <- struct{}{}:
	default:
	}
}

// Run drives the state machine until ctx is cancelled (-> Stopped) or
// the session goes Dead. It always returns after releasing its
// connection.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.stop()
			return
		default:
		}

		conn, err := s.connectAndSelect(ctx)
		if err != nil {
			s.reconnects++
			s.logger.Warn("idle: connect failed", "attempt", s.reconnects, "error", err)
			if s.reconnects > s.opts.MaxReconnects {
				s.setState(StateDead)
				close(s.dead)
				return
			}
			s.setState(StateBackoff)
			if !s.wait(ctx, s.opts.BackoffWait) {
				s.stop()
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.setState(StateIdling)

		s.idleRound(ctx, conn)
		conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		if ctx.Err() != nil {
			s.stop()
			return
		}

		// idleRound only returns (without ctx cancellation) on a
		// socket/protocol error; a clean IDLE round trip resets
		// s.reconnects internally without unwinding here.
		s.reconnects++
		if s.reconnects > s.opts.MaxReconnects {
			s.setState(StateDead)
			close(s.dead)
			return
		}
		s.setState(StateBackoff)
		if !s.wait(ctx, s.opts.BackoffWait) {
			s.stop()
			return
		}
	}
}

func (s *Session) connectAndSelect(ctx context.Context) (*imapconn.Connector, error) {
	s.setState(StateConnected)
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	if _, err := conn.SelectINBOX(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	s.setState(StateLocked)
	return conn, nil
}

// idleRound keeps a live IDLE command going, refreshing it every
// RefreshEvery with a brief DONE+re-IDLE, until an error or ctx
// cancellation. An EXISTS event signals NewMail asynchronously and
// does not interrupt the IDLE loop (spec.md §4.C3: "Idling -> EXISTS
// event -> Idling"). Returns true only when ctx was cancelled cleanly
// (caller stops); false on any socket/protocol error (caller backs
// off and reconnects, incrementing reconnect_attempts).
func (s *Session) idleRound(ctx context.Context, conn *imapconn.Connector) bool {
	imapClient := conn.Client()
	if imapClient == nil {
		return false
	}

	updates := make(chan imapclient.Update, 8)
	imapClient.Updates = updates
	defer func() { imapClient.Updates = nil }()

	for {
		stop := make(chan struct{})
		idleDone := make(chan error, 1)
		go func() {
			idleDone <- imapClient.Idle(stop, &imapclient.IdleOptions{})
		}()

		refreshedCleanly := s.runOneIdleCommand(ctx, updates, stop, idleDone)
		if !refreshedCleanly {
			return ctx.Err() != nil
		}
		s.mu.Lock()
		s.reconnects = 0
		s.mu.Unlock()
	}
}

// runOneIdleCommand waits out a single IDLE command until its
// RefreshEvery timer fires (returns true, re-IDLE), or ctx is
// cancelled / the socket errors (returns false).
func (s *Session) runOneIdleCommand(ctx context.Context, updates <-chan imapclient.Update, stop chan struct{}, idleDone <-chan error) bool {
	refresh := time.NewTimer(s.opts.RefreshEvery)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-idleDone
			return false

		case upd := <-updates:
			if mu, ok := upd.(*imapclient.MailboxUpdate); ok && mu.Mailbox != nil {
				s.logger.Debug("idle: EXISTS", "messages", mu.Mailbox.Messages)
				s.signalNewMail()
			}

		case <-refresh.C:
			close(stop)
			if err := <-idleDone; err != nil {
				s.logger.Warn("idle: refresh DONE failed", "error", err)
				return false
			}
			return true

		case err := <-idleDone:
			if err != nil {
				s.logger.Warn("idle: socket error", "error", err)
			}
			return false
		}
	}
}

func (s *Session) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Session) stop() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	s.setState(StateStopped)
}
