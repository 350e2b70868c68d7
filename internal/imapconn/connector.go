// Package imapconn is the thin IMAP connection wrapper spec.md §4.C2
// describes: connect/login, UID SEARCH/FETCH, and exposing the
// underlying client so internal/idle can drive a real IDLE loop.
package imapconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"

	"github.com/relaymail/mailcore/internal/provider"
	"github.com/relaymail/mailcore/internal/retry"
	"github.com/relaymail/mailcore/pkg/models"
)

// Timeouts bundles the connect/greeting timeouts spec.md §4.C2 asks
// for, both defaulting to 30s.
type Timeouts struct {
	Connect  time.Duration
	Greeting time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Connect <= 0 {
		t.Connect = 30 * time.Second
	}
	if t.Greeting <= 0 {
		t.Greeting = 30 * time.Second
	}
	return t
}

// Connector owns exactly one IMAP connection (spec.md §5: "each IMAP
// connection is owned exclusively by its IDLE session").
type Connector struct {
	params   provider.ConnParams
	timeouts Timeouts

	mu     sync.Mutex
	client *client.Client
}

// New builds a Connector for a resolved set of connection parameters.
func New(params provider.ConnParams, timeouts Timeouts) *Connector {
	return &Connector{params: params, timeouts: timeouts.withDefaults()}
}

// Client returns the underlying emersion/go-imap client for callers
// (internal/idle) that need direct access to Idle()/Updates(). Nil
// until a successful Connect.
func (c *Connector) Client() *client.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Connect dials, upgrades TLS as needed, and authenticates, retrying
// transient failures per spec.md §4.C2.
func (c *Connector) Connect(ctx context.Context) error {
	return retry.Do(ctx, retry.Options{}, func(ctx context.Context) error {
		return c.connectOnce(ctx)
	})
}

func (c *Connector) connectOnce(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.params.Host, c.params.Port)
	dialer := &net.Dialer{Timeout: c.timeouts.Connect}

	var conn net.Conn
	var err error
	switch c.params.Security {
	case models.SecurityNone, models.SecurityStartTLS:
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	default:
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, nil)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	conn.SetReadDeadline(time.Now().Add(c.timeouts.Greeting))
	imapClient, err := client.New(conn)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		conn.Close()
		return fmt.Errorf("imap handshake: %w", err)
	}

	if c.params.Security == models.SecurityStartTLS {
		if err := imapClient.StartTLS(&tls.Config{ServerName: c.params.Host}); err != nil {
			imapClient.Logout()
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if err := c.authenticate(imapClient); err != nil {
		imapClient.Logout()
		return err
	}

	c.client = imapClient
	return nil
}

func (c *Connector) authenticate(imapClient *client.Client) error {
	switch c.params.AuthKind {
	case models.AuthOAuth2:
		saslClient := sasl.NewXoauth2Client(c.params.Email, c.params.AccessToken)
		if err := imapClient.Authenticate(saslClient); err != nil {
			return authError(fmt.Sprintf("XOAUTH2 authentication failed: %v", err), err)
		}
		return nil
	default:
		if err := imapClient.Login(c.params.Username, c.params.Password); err != nil {
			return authError(fmt.Sprintf("LOGIN failed: %v", err), err)
		}
		return nil
	}
}

// Test connects, selects INBOX, and disconnects — spec.md §9's pinned
// "throw-with-details" convention: a non-nil error (never a bool)
// carries the *Error with server text.
func (c *Connector) Test(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	_, err := c.SelectINBOX(ctx)
	return err
}

// SelectINBOX opens the INBOX mailbox in read-write mode.
func (c *Connector) SelectINBOX(ctx context.Context) (*imap.MailboxStatus, error) {
	imapClient := c.Client()
	if imapClient == nil {
		return nil, fmt.Errorf("imapconn: not connected")
	}

	var mbox *imap.MailboxStatus
	err := retry.Do(ctx, retry.Options{}, func(context.Context) error {
		var err error
		mbox, err = imapClient.Select("INBOX", false)
		if err != nil {
			return fmt.Errorf("select INBOX: %w", err)
		}
		return nil
	})
	return mbox, err
}

// HighestUID returns the highest UID currently in INBOX, or 0 if empty.
func (c *Connector) HighestUID(ctx context.Context) (uint32, error) {
	imapClient := c.Client()
	if imapClient == nil {
		return 0, fmt.Errorf("imapconn: not connected")
	}

	var highest uint32
	err := retry.Do(ctx, retry.Options{}, func(context.Context) error {
		criteria := imap.NewSearchCriteria()
		uids, err := imapClient.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("uid search: %w", err)
		}
		highest = 0
		for _, uid := range uids {
			if uid > highest {
				highest = uid
			}
		}
		return nil
	})
	return highest, err
}

// FetchSince performs the SEARCH+FETCH pair from spec.md §4.C2:
// "SEARCH UID (since+1):* (or ALL when since=0), keep only the last
// limit UIDs". A message that fails to parse is skipped, never
// failing the whole fetch.
func (c *Connector) FetchSince(ctx context.Context, since uint32, limit uint32) ([]*models.FetchedMessage, error) {
	imapClient := c.Client()
	if imapClient == nil {
		return nil, fmt.Errorf("imapconn: not connected")
	}

	var uids []uint32
	err := retry.Do(ctx, retry.Options{}, func(context.Context) error {
		criteria := imap.NewSearchCriteria()
		if since > 0 {
			seqSet := new(imap.SeqSet)
			seqSet.AddRange(since+1, 0)
			criteria.Uid = seqSet
		}
		found, err := imapClient.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("uid search: %w", err)
		}
		uids = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && uint32(len(uids)) > limit {
		uids = uids[uint32(len(uids))-limit:]
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	var messages []*models.FetchedMessage
	err = retry.Do(ctx, retry.Options{}, func(context.Context) error {
		messages = nil
		ch := make(chan *imap.Message, 32)
		done := make(chan error, 1)
		go func() { done <- imapClient.UidFetch(seqSet, items, ch) }()

		for msg := range ch {
			parsed, perr := c.toFetchedMessage(msg, section)
			if perr != nil {
				continue // spec.md §4.C2: a single bad message never fails the batch
			}
			messages = append(messages, parsed)
		}
		if err := <-done; err != nil {
			return fmt.Errorf("uid fetch: %w", err)
		}
		return nil
	})
	return messages, err
}

func (c *Connector) toFetchedMessage(msg *imap.Message, section *imap.BodySectionName) (*models.FetchedMessage, error) {
	fm := &models.FetchedMessage{UID: msg.Uid}

	if msg.Envelope != nil {
		fm.Subject = msg.Envelope.Subject
		fm.Date = msg.Envelope.Date
		fm.MessageID = msg.Envelope.MessageId
		if len(msg.Envelope.From) > 0 {
			from := msg.Envelope.From[0]
			fm.From = models.Address{Name: from.PersonalName, Address: from.Address()}
		}
		for _, to := range msg.Envelope.To {
			fm.To = append(fm.To, models.Address{Name: to.PersonalName, Address: to.Address()})
		}
	}
	if fm.MessageID == "" {
		return nil, fmt.Errorf("message uid=%d has no Message-ID", msg.Uid)
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("message uid=%d has no body section", msg.Uid)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	fm.RawRFC822 = raw
	return fm, nil
}

// Close logs out and releases the connection.
func (c *Connector) Close() error {
	c.mu.Lock()
	imapClient := c.client
	c.client = nil
	c.mu.Unlock()

	if imapClient == nil {
		return nil
	}
	return imapClient.Logout()
}
