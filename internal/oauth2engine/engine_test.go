package oauth2engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestGmail_Config_PinnedEndpoints(t *testing.T) {
	cfg := Gmail("client-id", "client-secret")
	assert.Equal(t, "https://oauth2.googleapis.com/device/code", cfg.Endpoint.DeviceAuthURL)
	assert.Equal(t, "https://oauth2.googleapis.com/token", cfg.Endpoint.TokenURL)
	assert.Contains(t, cfg.Scopes, "https://mail.google.com/")
}

func TestOutlook_Config_DefaultsTenantToCommon(t *testing.T) {
	cfg := Outlook("client-id", "")
	assert.Contains(t, cfg.Endpoint.DeviceAuthURL, "/common/oauth2/v2.0/devicecode")
}

// TestInitiate_ReturnsDeviceCodes covers S5: initiating a device flow
// yields device_code/user_code/verification_uri.
func TestInitiate_ReturnsDeviceCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"device_code":      "dev-123",
			"user_code":        "ABCD-EFGH",
			"verification_uri": "https://example.com/device",
			"expires_in":       900,
			"interval":         1,
		})
	}))
	defer srv.Close()

	cfg := &oauth2.Config{
		ClientID: "client-id",
		Endpoint: oauth2.Endpoint{DeviceAuthURL: srv.URL},
	}

	resp, err := Initiate(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "dev-123", resp.DeviceCode)
	assert.Equal(t, "ABCD-EFGH", resp.UserCode)
}

// TestPollAndExchange_PendingThenSuccess covers the
// authorization_pending -> success transition.
func TestPollAndExchange_PendingThenSuccess(t *testing.T) {
	attempts := 0
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"error": "authorization_pending"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_in":    3600,
			"token_type":    "Bearer",
		})
	}))
	defer tokenSrv.Close()

	cfg := &oauth2.Config{
		ClientID: "client-id",
		Endpoint: oauth2.Endpoint{TokenURL: tokenSrv.URL},
	}
	da := &oauth2.DeviceAuthResponse{
		DeviceCode: "dev-123",
		Interval:   1,
		Expiry:     time.Now().Add(time.Minute),
	}

	tok, err := PollAndExchange(context.Background(), cfg, da)
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
	assert.Equal(t, "rt-1", tok.RefreshToken)
	assert.GreaterOrEqual(t, attempts, 2)
}

// TestPollAndExchange_FatalError covers the "any other error field is
// fatal" branch.
func TestPollAndExchange_FatalError(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": "access_denied"})
	}))
	defer tokenSrv.Close()

	cfg := &oauth2.Config{
		ClientID: "client-id",
		Endpoint: oauth2.Endpoint{TokenURL: tokenSrv.URL},
	}
	da := &oauth2.DeviceAuthResponse{
		DeviceCode: "dev-123",
		Interval:   1,
		Expiry:     time.Now().Add(time.Minute),
	}

	_, err := PollAndExchange(context.Background(), cfg, da)
	assert.Error(t, err)
}

// TestRefresh_PreservesRefreshTokenWhenOmitted covers Testable
// Property 5 at the OAuth2-engine boundary.
func TestRefresh_PreservesRefreshTokenWhenOmitted(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-new",
			"expires_in":   3600,
			"token_type":   "Bearer",
		})
	}))
	defer tokenSrv.Close()

	cfg := &oauth2.Config{
		ClientID: "client-id",
		Endpoint: oauth2.Endpoint{TokenURL: tokenSrv.URL},
	}

	tok, err := Refresh(context.Background(), cfg, "rt-original")
	require.NoError(t, err)
	assert.Equal(t, "at-new", tok.AccessToken)
	assert.Equal(t, "rt-original", tok.RefreshToken)
}
