package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kinvo/easyinventory/authsession"
	"github.com/kinvo/easyinventory/authsession/browserfakes"
	"github.com/kinvo/easyinventory/gateway"
	"github.com/kinvo/easyinventory/internal/config"
	apperrors "github.com/kinvo/easyinventory/internal/errors"
	"github.com/kinvo/easyinventory/policy"
	"github.com/kinvo/easyinventory/server"
	"github.com/kinvo/easyinventory/vault"
	"github.com/kinvo/easyinventory/vault/keystorefakes"
	"github.com/kinvo/easyinventory/vault/storage/memstore"

	"github.com/rs/zerolog"
)

// stubClient records dispatched requests and returns a canned body.
type stubClient struct {
	id   string
	ops  []gateway.Operation
	err  error
	last gateway.Request
}

func (c *stubClient) ProviderID() string              { return c.id }
func (c *stubClient) Operations() []gateway.Operation { return c.ops }
func (c *stubClient) Send(_ context.Context, req gateway.Request) (*gateway.Response, error) {
	c.last = req
	if c.err != nil {
		return nil, c.err
	}
	return &gateway.Response{Provider: c.id, Body: []byte(`{"ok":true}`)}, nil
}

type fixture struct {
	srv     *server.Server
	manager *authsession.Manager
	browser *browserfakes.FakeBrowser
	stub    *stubClient
	idp     *httptest.Server
}

func setupServer(t *testing.T, tier policy.Tier) *fixture {
	t.Helper()

	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "opaque-access-token",
			"refresh_token": "refresh-token",
			"token_type":    "bearer",
			"expires_in":    3600,
			"sub":           "mem_01HTEST",
			"plan":          "Premium Annual",
		})
	}))
	t.Cleanup(idp.Close)

	cfg := &config.Config{
		Tier:               tier,
		AuthBaseURL:        idp.URL,
		DemoAuthBaseURL:    idp.URL,
		AuthorizePath:      "/login",
		TokenPath:          "/oauth/token",
		ClientID:           "easyinventory-app",
		CallbackScheme:     "easyinventory",
		CallbackHost:       "app.easyinventory.io",
		CallbackPathPrefix: "/auth/callback",
		UpgradeURL:         "https://easyinventory.io/plans",
	}
	require.NoError(t, cfg.Validate())

	v, err := vault.New(context.Background(), memstore.New(),
		keystorefakes.NewFakeKeystore([]byte("0123456789abcdef0123456789abcdef")))
	require.NoError(t, err)

	browser := browserfakes.NewFakeBrowser()
	manager, err := authsession.New(cfg, v, browser,
		authsession.WithHTTPClient(idp.Client()))
	require.NoError(t, err)

	stub := &stubClient{
		id:  "eposnow",
		ops: []gateway.Operation{gateway.OpSearchProducts, gateway.OpUpdateStock, gateway.OpSyncTransactions},
	}
	router, err := gateway.NewRouter(cfg, v, manager, []gateway.Client{stub})
	require.NoError(t, err)

	return &fixture{
		srv:     server.New(cfg, manager, router, zerolog.Nop()),
		manager: manager,
		browser: browser,
		stub:    stub,
		idp:     idp,
	}
}

func (f *fixture) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

// login drives the full flow through the HTTP surface.
func (f *fixture) login(t *testing.T) {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/login", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body struct {
		AuthURL string `json:"auth_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	u, err := url.Parse(body.AuthURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	rec = f.do(t, http.MethodGet, "/auth/callback?code=authcode&state="+state, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_LoginFlow(t *testing.T) {
	f := setupServer(t, policy.TierPremium)
	f.login(t)

	rec := f.do(t, http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var session struct {
		SubjectID string `json:"subject_id"`
		Plan      string `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.Equal(t, "mem_01HTEST", session.SubjectID)
	require.Equal(t, "Premium Annual", session.Plan)
	require.Len(t, f.browser.OpenedURLs(), 1)
}

func TestServer_SessionWithoutLogin(t *testing.T) {
	f := setupServer(t, policy.TierPremium)

	rec := f.do(t, http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_CallbackWithoutLogin(t *testing.T) {
	f := setupServer(t, policy.TierPremium)

	rec := f.do(t, http.MethodGet, "/auth/callback?code=authcode&state=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SecondLoginConflicts(t *testing.T) {
	f := setupServer(t, policy.TierPremium)

	rec := f.do(t, http.MethodPost, "/login", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/login", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_Logout(t *testing.T) {
	f := setupServer(t, policy.TierPremium)
	f.login(t)

	rec := f.do(t, http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_Capabilities(t *testing.T) {
	t.Run("BasicTierCarriesUpgradeLink", func(t *testing.T) {
		f := setupServer(t, policy.TierBasic)

		rec := f.do(t, http.MethodGet, "/capabilities", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Tier         string   `json:"tier"`
			Capabilities []string `json:"capabilities"`
			UpgradeURL   string   `json:"upgrade_url"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "basic", resp.Tier)
		require.Equal(t, "https://easyinventory.io/plans", resp.UpgradeURL)
		require.NotContains(t, resp.Capabilities, string(policy.CapCSVExport))
	})

	t.Run("PremiumTierOmitsUpgradeLink", func(t *testing.T) {
		f := setupServer(t, policy.TierPremium)
		f.login(t)

		rec := f.do(t, http.MethodGet, "/capabilities", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Capabilities []string `json:"capabilities"`
			UpgradeURL   string   `json:"upgrade_url"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Empty(t, resp.UpgradeURL)
		require.Contains(t, resp.Capabilities, string(policy.CapCSVExport))
	})
}

func TestServer_EntitlementOverridesConfiguredTier(t *testing.T) {
	// A basic build whose membership covers Premium gains premium
	// capabilities once logged in.
	f := setupServer(t, policy.TierBasic)
	f.login(t)

	rec := f.do(t, http.MethodGet, "/capabilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tier         string   `json:"tier"`
		Capabilities []string `json:"capabilities"`
		UpgradeURL   string   `json:"upgrade_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "premium", resp.Tier)
	require.Contains(t, resp.Capabilities, string(policy.CapCSVExport))
	require.Empty(t, resp.UpgradeURL)

	// The gateway honors the entitlement too: provider switching is
	// premium-only.
	rec = f.do(t, http.MethodPut, "/gateway/provider", []byte(`{"provider":"eposnow"}`))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Logging out drops the entitlement with the session.
	rec = f.do(t, http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/capabilities", nil)
	var after struct {
		Tier string `json:"tier"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	require.Equal(t, "basic", after.Tier)
}

func TestServer_GatewayDispatch(t *testing.T) {
	f := setupServer(t, policy.TierPremium)
	f.login(t)

	payload := []byte(`{"query":"widget"}`)
	rec := f.do(t, http.MethodPost, "/gateway/search-products", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Provider string          `json:"provider"`
		Body     json.RawMessage `json:"body"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "eposnow", resp.Provider)
	require.JSONEq(t, `{"ok":true}`, string(resp.Body))
	require.Equal(t, gateway.OpSearchProducts, f.stub.last.Operation)
	require.JSONEq(t, string(payload), string(f.stub.last.Payload))
}

func TestServer_GatewayRequiresSession(t *testing.T) {
	f := setupServer(t, policy.TierPremium)

	rec := f.do(t, http.MethodPost, "/gateway/update-stock", []byte(`{"product_id":"1","quantity":2}`))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_GatewayUnknownOperation(t *testing.T) {
	f := setupServer(t, policy.TierPremium)
	f.login(t)

	rec := f.do(t, http.MethodPost, "/gateway/teleport", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_GatewayErrorMapping(t *testing.T) {
	f := setupServer(t, policy.TierPremium)
	f.login(t)

	f.stub.err = apperrors.ErrProviderDegraded
	rec := f.do(t, http.MethodPost, "/gateway/search-products", []byte(`{"query":"x"}`))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.stub.err = apperrors.ErrRejected
	rec = f.do(t, http.MethodPost, "/gateway/search-products", []byte(`{"query":"x"}`))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServer_ProviderSwitch(t *testing.T) {
	t.Run("PremiumCanSwitch", func(t *testing.T) {
		f := setupServer(t, policy.TierPremium)
		f.login(t)

		rec := f.do(t, http.MethodPut, "/gateway/provider", []byte(`{"provider":"eposnow"}`))
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.do(t, http.MethodGet, "/gateway/provider", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"provider":"eposnow"}`, rec.Body.String())
	})

	t.Run("BasicCannotSwitch", func(t *testing.T) {
		f := setupServer(t, policy.TierBasic)

		rec := f.do(t, http.MethodPut, "/gateway/provider", []byte(`{"provider":"eposnow"}`))
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("MissingProviderRejected", func(t *testing.T) {
		f := setupServer(t, policy.TierPremium)

		rec := f.do(t, http.MethodPut, "/gateway/provider", []byte(`{}`))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Healthz(t *testing.T) {
	f := setupServer(t, policy.TierBasic)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
