package mailcow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnabled_RequiresAllThreeFields(t *testing.T) {
	c := New(Config{BaseURL: "https://mail.example.com"}, nil)
	assert.False(t, c.Enabled())

	c = New(Config{BaseURL: "https://mail.example.com", APIKey: "k", Domain: "example.com"}, nil)
	assert.True(t, c.Enabled())
}

func TestIMAPHostPort_DerivesFromBaseURL(t *testing.T) {
	c := New(Config{BaseURL: "https://mail.example.com", APIKey: "k", Domain: "example.com"}, nil)
	host, err := c.IMAPHostPort()
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com:993", host)
}

func TestCreateMailbox_GeneratesPasswordAndParsesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/add/mailbox", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		_ = json.NewEncoder(w).Encode([]apiResponse{{Type: "success"}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "secret", Domain: "example.com"}, nil)
	mb, err := c.CreateMailbox(context.Background(), "sales", "", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "sales@example.com", mb.Email())
	assert.NotEmpty(t, mb.Password)
	assert.Equal(t, defaultQuotaMB, mb.QuotaMB)
}

func TestCreateMailbox_ReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]apiResponse{{Type: "error", Msg: []string{"mailbox_exists"}}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "secret", Domain: "example.com"}, nil)
	_, err := c.CreateMailbox(context.Background(), "sales", "", "pw", 512)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox_exists")
}

func TestGeneratePassword_ReturnsRequestedLength(t *testing.T) {
	pw, err := GeneratePassword(20)
	require.NoError(t, err)
	assert.Len(t, pw, 20)
}
