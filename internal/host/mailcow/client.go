// Package mailcow is the optional, disabled-by-default admin
// convenience spec.md's expansion names: provisioning a fresh mailbox
// on a self-hosted Mailcow instance for a generic-IMAP account,
// instead of requiring an operator to create one out of band first.
//
// Adapted from the teacher's internal/mailcow/client.go. It never
// participates in ingestion (C1-C10); only internal/host/telegramsink's
// /create command touches it, wiring a provisioned mailbox straight
// into internal/tools.Surface.AccountsAdd.
package mailcow

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"time"
)

// Config points the client at one Mailcow instance and default domain.
type Config struct {
	BaseURL string // e.g. https://mail.example.com
	APIKey  string
	Domain  string // default domain new mailboxes are created under
}

// Client is a minimal Mailcow admin API client.
type Client struct {
	baseURL string
	apiKey  string
	domain  string
	http    *http.Client
	logger  *slog.Logger
}

// Mailbox is a provisioned Mailcow mailbox, in the shape
// internal/host/telegramsink needs to build a models.Account from it.
type Mailbox struct {
	LocalPart string
	Domain    string
	Password  string
	QuotaMB   int
}

// Email returns the mailbox's full address.
func (m Mailbox) Email() string { return m.LocalPart + "@" + m.Domain }

type createMailboxRequest struct {
	LocalPart     string `json:"local_part"`
	Domain        string `json:"domain"`
	Name          string `json:"name"`
	Password      string `json:"password"`
	Password2     string `json:"password2"`
	Quota         int    `json:"quota"`
	Active        int    `json:"active"`
	ForcePWUpdate int    `json:"force_pw_update"`
	TLSEnforceIn  int    `json:"tls_enforce_in"`
	TLSEnforceOut int    `json:"tls_enforce_out"`
	SOGoAccess    int    `json:"sogo_access"`
	IMAPAccess    int    `json:"imap_access"`
	POPAccess     int    `json:"pop3_access"`
	SMTPAccess    int    `json:"smtp_access"`
}

type apiResponse struct {
	Type string   `json:"type"`
	Msg  []string `json:"msg"`
}

const defaultQuotaMB = 1024

// New builds a Client. logger may be nil, in which case slog.Default()
// is used.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		domain:  cfg.Domain,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "mailcow_client"),
	}
}

// Enabled reports whether the integration has everything it needs.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != "" && c.apiKey != "" && c.domain != ""
}

// Domain returns the configured default domain.
func (c *Client) Domain() string { return c.domain }

// CreateMailbox provisions a mailbox under the configured domain,
// generating a password when none is supplied.
func (c *Client) CreateMailbox(ctx context.Context, localPart, name, password string, quotaMB int) (Mailbox, error) {
	if !c.Enabled() {
		return Mailbox{}, fmt.Errorf("mailcow: integration not configured")
	}
	if password == "" {
		var err error
		password, err = GeneratePassword(16)
		if err != nil {
			return Mailbox{}, fmt.Errorf("mailcow: generate password: %w", err)
		}
	}
	if quotaMB <= 0 {
		quotaMB = defaultQuotaMB
	}
	if name == "" {
		name = localPart
	}

	req := createMailboxRequest{
		LocalPart: localPart, Domain: c.domain, Name: name,
		Password: password, Password2: password, Quota: quotaMB,
		Active: 1, TLSEnforceIn: 1, TLSEnforceOut: 1,
		SOGoAccess: 1, IMAPAccess: 1, POPAccess: 1, SMTPAccess: 1,
	}
	var results []apiResponse
	if err := c.call(ctx, "/api/v1/add/mailbox", req, &results); err != nil {
		return Mailbox{}, err
	}
	if err := firstResultError(results); err != nil {
		return Mailbox{}, fmt.Errorf("mailcow: create mailbox: %w", err)
	}

	c.logger.Info("provisioned mailbox", "local_part", localPart, "domain", c.domain)
	return Mailbox{LocalPart: localPart, Domain: c.domain, Password: password, QuotaMB: quotaMB}, nil
}

// DeleteMailbox removes a mailbox by its full address.
func (c *Client) DeleteMailbox(ctx context.Context, email string) error {
	if !c.Enabled() {
		return fmt.Errorf("mailcow: integration not configured")
	}
	var results []apiResponse
	if err := c.call(ctx, "/api/v1/delete/mailbox", []string{email}, &results); err != nil {
		return err
	}
	if err := firstResultError(results); err != nil {
		return fmt.Errorf("mailcow: delete mailbox: %w", err)
	}
	c.logger.Info("deleted mailbox", "email", email)
	return nil
}

// IMAPHostPort derives the IMAP host:993 endpoint from the configured
// base URL.
func (c *Client) IMAPHostPort() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("mailcow: cannot derive IMAP host from %q", c.baseURL)
	}
	return u.Hostname() + ":993", nil
}

func (c *Client) call(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mailcow: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mailcow: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("mailcow: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mailcow: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mailcow: %s returned status %d: %s", path, resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("mailcow: decode response: %w (body: %s)", err, respBody)
	}
	return nil
}

func firstResultError(results []apiResponse) error {
	if len(results) == 0 {
		return fmt.Errorf("empty API response")
	}
	if results[0].Type != "success" {
		if len(results[0].Msg) > 0 {
			return fmt.Errorf("%s", results[0].Msg[0])
		}
		return fmt.Errorf("unknown API error")
	}
	return nil
}

// GeneratePassword returns a cryptographically random password of the
// requested length.
func GeneratePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
	password := make([]byte, length)
	for i := range password {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		password[i] = charset[n.Int64()]
	}
	return string(password), nil
}
