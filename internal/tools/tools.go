// Package tools implements the nine stable-named tool operations
// spec.md §6 exposes to the host: mail_accounts_{list,add,update,
// delete,test}, mail_list_recent, mail_get, mail_settings_{get,update}.
// Every method returns the same {success, data|error} shape as a
// tools.Result and requires a present user id, mirroring the
// teacher's Telegram command handlers in internal/telegram/handlers.go
// but decoupled from any specific chat transport.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/relaymail/mailcore/internal/credstore"
	"github.com/relaymail/mailcore/internal/host"
	"github.com/relaymail/mailcore/internal/imapconn"
	"github.com/relaymail/mailcore/internal/provider"
	"github.com/relaymail/mailcore/internal/registry"
	"github.com/relaymail/mailcore/pkg/models"
)

const (
	accountsCollection = "accounts"
	settingsCollection = "settings"
)

// Result is the wire shape every tool operation returns.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(data any) Result   { return Result{Success: true, Data: data} }
func fail(err error) Result {
	return Result{Success: false, Error: err.Error()}
}
func failf(format string, args ...any) Result {
	return fail(fmt.Errorf(format, args...))
}

// Deps bundles what the tool surface needs to act on an account: the
// same host.Storage/SecretVault/provider.Registry the ingestion core
// uses, plus the user registry and an optional hook to (re)start a
// user's ingestion worker the moment their first account is enabled.
type Deps struct {
	Storage     host.Storage
	Vault       host.SecretVault
	Providers   *provider.Registry
	Registry    *registry.Registry
	ConnTimeout imapconn.Timeouts
	FetchLimit  uint32
	Logger      *slog.Logger

	// StartUser/StopUser let the tool surface drive
	// supervisor.Supervisor without importing it: registering a user's
	// first enabled account starts their worker, and disabling their
	// last one stops it. Both may be left nil in tests.
	StartUser func(ctx context.Context, userID string)
	StopUser  func(userID string)
}

func (d Deps) withDefaults() Deps {
	if d.FetchLimit == 0 {
		d.FetchLimit = 20
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// Surface implements the nine tool operations.
type Surface struct {
	deps Deps
}

func New(deps Deps) *Surface {
	return &Surface{deps: deps.withDefaults()}
}

func requireUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	return nil
}

// AccountsList is mail_accounts_list.
func (s *Surface) AccountsList(ctx context.Context, userID string) Result {
	if err := requireUserID(userID); err != nil {
		return fail(err)
	}
	var accounts []*models.Account
	if err := s.deps.Storage.Find(ctx, accountsCollection, host.Query{"user_id": userID}, host.FindOptions{Sort: "display_name"}, &accounts); err != nil {
		return failf("list accounts: %w", err)
	}
	return ok(accounts)
}

// AddAccountInput is mail_accounts_add's parameter shape.
type AddAccountInput struct {
	Provider    models.Provider
	DisplayName string
	Email       string
	IMAPHost    string
	IMAPPort    int
	Security    models.Security
	AuthKind    models.AuthKind
	// Password is required when AuthKind == AuthPassword; Username
	// defaults to Email when left blank.
	Username string
	Password string
	// OAuth2 fields are required when AuthKind == AuthOAuth2; the
	// caller has already completed the device-code exchange via
	// internal/oauth2engine before calling AccountsAdd.
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// AccountsAdd is mail_accounts_add.
func (s *Surface) AccountsAdd(ctx context.Context, userID string, in AddAccountInput) Result {
	if err := requireUserID(userID); err != nil {
		return fail(err)
	}

	account := &models.Account{
		ID:          uuid.NewString(),
		UserID:      userID,
		Provider:    in.Provider,
		DisplayName: in.DisplayName,
		Email:       in.Email,
		IMAPHost:    in.IMAPHost,
		IMAPPort:    in.IMAPPort,
		Security:    in.Security,
		AuthKind:    in.AuthKind,
		Enabled:     true,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	if account.Provider == models.ProviderIMAP && account.IMAPHost == "" && account.Email != "" {
		if hostPort, err := provider.ResolveIMAPHost(account.Email); err == nil {
			account.IMAPHost, account.IMAPPort = splitHostPort(hostPort, account.IMAPPort)
		}
	}
	if account.Security == "" {
		account.Security = models.SecuritySSL
	}
	if account.IMAPPort == 0 {
		account.IMAPPort = 993
	}
	if account.DisplayName == "" {
		account.DisplayName = account.Email
	}

	if err := account.Validate(); err != nil {
		return fail(err)
	}

	var creds models.Credentials
	switch account.AuthKind {
	case models.AuthPassword:
		if in.Password == "" {
			return failf("password is required for %s accounts", account.Provider)
		}
		username := in.Username
		if username == "" {
			username = account.Email
		}
		creds = models.Credentials{Kind: models.AuthPassword, Password: &models.PasswordCredentials{Username: username, Password: in.Password}}
	case models.AuthOAuth2:
		if in.AccessToken == "" || in.RefreshToken == "" {
			return failf("oauth2 tokens are required for %s accounts", account.Provider)
		}
		creds = models.Credentials{Kind: models.AuthOAuth2, OAuth2: &models.OAuth2Credentials{
			AccessToken: in.AccessToken, RefreshToken: in.RefreshToken, ExpiresAt: in.ExpiresAt,
		}}
	default:
		return failf("unsupported auth kind %q", account.AuthKind)
	}

	if err := credstore.Save(ctx, s.deps.Vault, account.ID, creds); err != nil {
		return fail(err)
	}
	if err := s.deps.Storage.Put(ctx, accountsCollection, account.ID, account); err != nil {
		return failf("save account: %w", err)
	}

	if s.deps.Registry != nil {
		_ = s.deps.Registry.Register(ctx, userID)
	}
	if s.deps.StartUser != nil {
		s.deps.StartUser(ctx, userID)
	}

	return ok(account)
}

// UpdateAccountInput is mail_accounts_update's parameter shape. Nil
// pointer fields are left unchanged.
type UpdateAccountInput struct {
	DisplayName *string
	Email       *string
	IMAPHost    *string
	IMAPPort    *int
	Security    *models.Security
	Enabled     *bool
}

// AccountsUpdate is mail_accounts_update.
func (s *Surface) AccountsUpdate(ctx context.Context, userID, accountID string, in UpdateAccountInput) Result {
	if err := requireUserID(userID); err != nil {
		return fail(err)
	}
	account, err := s.loadOwnedAccount(ctx, userID, accountID)
	if err != nil {
		return fail(err)
	}

	wasEnabled := account.Enabled
	if in.DisplayName != nil {
		account.DisplayName = *in.DisplayName
	}
	if in.Email != nil {
		account.Email = *in.Email
	}
	if in.IMAPHost != nil {
		account.IMAPHost = *in.IMAPHost
	}
	if in.IMAPPort != nil {
		account.IMAPPort = *in.IMAPPort
	}
	if in.Security != nil {
		account.Security = *in.Security
	}
	if in.Enabled != nil {
		account.Enabled = *in.Enabled
	}
	account.UpdatedAt = time.Now().UTC()

	if err := account.Validate(); err != nil {
		return fail(err)
	}
	if err := s.deps.Storage.Put(ctx, accountsCollection, account.ID, account); err != nil {
		return failf("save account: %w", err)
	}

	if !wasEnabled && account.Enabled {
		if s.deps.Registry != nil {
			_ = s.deps.Registry.Register(ctx, userID)
		}
		if s.deps.StartUser != nil {
			s.deps.StartUser(ctx, userID)
		}
	}
	if wasEnabled && !account.Enabled {
		s.maybeUnregister(ctx, userID)
	}

	return ok(account)
}

// AccountsDelete is mail_accounts_delete: cascades to the account's
// credentials and Processed rows, per spec.md §3's Account lifecycle.
func (s *Surface) AccountsDelete(ctx context.Context, userID, accountID string) Result {
	if err := requireUserID(userID); err != nil {
		return fail(err)
	}
	if _, err := s.loadOwnedAccount(ctx, userID, accountID); err != nil {
		return fail(err)
	}

	if err := s.deps.Storage.DeleteMany(ctx, "processed", host.Query{"account_id": accountID}); err != nil {
		s.deps.Logger.Warn("tools: delete processed rows failed", "account_id", accountID, "error", err)
	}
	if err := credstore.Delete(ctx, s.deps.Vault, accountID); err != nil {
		s.deps.Logger.Warn("tools: delete credentials failed", "account_id", accountID, "error", err)
	}
	if err := s.deps.Storage.Delete(ctx, accountsCollection, accountID); err != nil {
		return failf("delete account: %w", err)
	}

	s.maybeUnregister(ctx, userID)
	return ok(map[string]string{"id": accountID})
}

// AccountsTest is mail_accounts_test: dials, authenticates, selects
// INBOX, disconnects — the "throw with details" flow spec.md §9 pins
// for testConnection/S6, wrapped into a {success,error} tool result.
func (s *Surface) AccountsTest(ctx context.Context, userID, accountID string) Result {
	if err := requireUserID(userID); err != nil {
		return fail(err)
	}
	account, err := s.loadOwnedAccount(ctx, userID, accountID)
	if err != nil {
		return fail(err)
	}

	conn, err := s.dial(ctx, account)
	if err != nil {
		account.LastError = err.Error()
		account.UpdatedAt = time.Now().UTC()
		_ = s.deps.Storage.Put(ctx, accountsCollection, account.ID, account)
		return fail(err)
	}
	defer conn.Close()

	if err := conn.Test(ctx); err != nil {
		account.LastError = err.Error()
		account.UpdatedAt = time.Now().UTC()
		_ = s.deps.Storage.Put(ctx, accountsCollection, account.ID, account)
		return fail(err)
	}

	account.LastError = ""
	account.UpdatedAt = time.Now().UTC()
	_ = s.deps.Storage.Put(ctx, accountsCollection, account.ID, account)
	return ok(map[string]string{"status": "connected"})
}

// MessageSummary is one row of mail_list_recent's data.
type MessageSummary struct {
	UID     uint32    `json:"uid"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
}

// ListRecent is mail_list_recent: a live re-fetch of the newest
// messages in an account's INBOX, independent of the dedup watermark
// (this is an on-demand admin view, not the ingestion path).
func (s *Surface) ListRecent(ctx context.Context, userID, accountID string, limit uint32) Result {
	if err := requireUserID(userID); err != nil {
		return fail(err)
	}
	account, err := s.loadOwnedAccount(ctx, userID, accountID)
	if err != nil {
		return fail(err)
	}
	if limit == 0 {
		limit = s.deps.FetchLimit
	}

	conn, err := s.dial(ctx, account)
	if err != nil {
		return fail(err)
	}
	defer conn.Close()

	if _, err := conn.SelectINBOX(ctx); err != nil {
		return fail(err)
	}
	msgs, err := conn.FetchSince(ctx, 0, limit)
	if err != nil {
		return fail(err)
	}

	summaries := make([]MessageSummary, len(msgs))
	for i, m := range msgs {
		summaries[i] = MessageSummary{UID: m.UID, From: m.From.Address, Subject: m.Subject, Date: m.Date}
	}
	return ok(summaries)
}

// Get is mail_get: fetches and parses one message by UID.
func (s *Surface) Get(ctx context.Context, userID, accountID string, uid uint32, parse func(*models.FetchedMessage) (*models.Parsed, error)) Result {
	if err := requireUserID(userID); err != nil {
		return fail(err)
	}
	account, err := s.loadOwnedAccount(ctx, userID, accountID)
	if err != nil {
		return fail(err)
	}

	conn, err := s.dial(ctx, account)
	if err != nil {
		return fail(err)
	}
	defer conn.Close()

	if _, err := conn.SelectINBOX(ctx); err != nil {
		return fail(err)
	}
	// FetchSince(uid-1, 0) fetches every UID >= uid via the same
	// SEARCH UID (since+1):* convention internal/ingest uses; the
	// message whose UID is exactly uid is then picked out.
	if uid == 0 {
		return failf("uid must be positive")
	}
	msgs, err := conn.FetchSince(ctx, uid-1, 0)
	if err != nil {
		return fail(err)
	}
	var found *models.FetchedMessage
	for _, m := range msgs {
		if m.UID == uid {
			found = m
			break
		}
	}
	if found == nil {
		return failf("message uid=%d not found", uid)
	}

	parsed, err := parse(found)
	if err != nil {
		return fail(err)
	}
	return ok(parsed)
}

// SettingsGet is mail_settings_get.
func (s *Surface) SettingsGet(ctx context.Context, userID string) Result {
	if err := requireUserID(userID); err != nil {
		return fail(err)
	}
	var settings models.Settings
	if err := s.deps.Storage.Get(ctx, settingsCollection, userID, &settings); err != nil {
		if errors.Is(err, host.ErrNotFound) {
			settings = models.Settings{UserID: userID}
			if err := s.deps.Storage.Put(ctx, settingsCollection, userID, settings); err != nil {
				return failf("create settings: %w", err)
			}
			return ok(settings)
		}
		return failf("get settings: %w", err)
	}
	return ok(settings)
}

// SettingsUpdate is mail_settings_update.
func (s *Surface) SettingsUpdate(ctx context.Context, userID, instruction string) Result {
	if err := requireUserID(userID); err != nil {
		return fail(err)
	}
	settings := models.Settings{UserID: userID, Instruction: instruction}
	if err := s.deps.Storage.Put(ctx, settingsCollection, userID, settings); err != nil {
		return failf("save settings: %w", err)
	}
	return ok(settings)
}

func (s *Surface) loadOwnedAccount(ctx context.Context, userID, accountID string) (*models.Account, error) {
	var account models.Account
	if err := s.deps.Storage.Get(ctx, accountsCollection, accountID, &account); err != nil {
		return nil, fmt.Errorf("account %s not found", accountID)
	}
	if account.UserID != userID {
		return nil, fmt.Errorf("account %s not found", accountID)
	}
	return &account, nil
}

func (s *Surface) dial(ctx context.Context, account *models.Account) (*imapconn.Connector, error) {
	creds, err := credstore.Load(ctx, s.deps.Vault, account.ID)
	if err != nil {
		return nil, err
	}
	p, err := s.deps.Providers.Resolve(account.Provider)
	if err != nil {
		return nil, err
	}
	params, err := p.ConnectionParams(account, creds)
	if err != nil {
		return nil, err
	}
	conn := imapconn.New(params, s.deps.ConnTimeout)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Surface) maybeUnregister(ctx context.Context, userID string) {
	if s.deps.Registry == nil {
		return
	}
	var enabled []*models.Account
	if err := s.deps.Storage.Find(ctx, accountsCollection, host.Query{"user_id": userID, "enabled": true}, host.FindOptions{}, &enabled); err != nil {
		return
	}
	if len(enabled) > 0 {
		return
	}
	_ = s.deps.Registry.Unregister(ctx, userID)
	if s.deps.StopUser != nil {
		s.deps.StopUser(userID)
	}
}

func splitHostPort(hostPort string, fallbackPort int) (string, int) {
	h, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return hostPort, fallbackPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port == 0 {
		port = 993
	}
	return h, port
}
