package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kinvo/easyinventory/internal/config"
	"github.com/kinvo/easyinventory/policy"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, policy.TierBasic, cfg.Tier)
	require.Equal(t, policy.EnvProduction, cfg.ResolvedEnvironment())
	require.Equal(t, "https://easyinventory.io/login", cfg.AuthorizeURL())
	require.Equal(t, "https://easyinventory.io/oauth/token", cfg.TokenURL())
	require.Equal(t, "easyinventory://app.easyinventory.io/auth/callback", cfg.RedirectURL())
	require.Equal(t, "https://api.clover.com", cfg.CloverBaseURL())
	require.Equal(t, "https://api.eposnowhq.com/api/v4", cfg.EposNowEndpoint())
}

func TestLoadDemoTier(t *testing.T) {
	t.Setenv("TIER", "demo")
	t.Setenv("ENVIRONMENT", "production") // must be ignored for demo

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, policy.TierDemo, cfg.Tier)
	require.Equal(t, policy.EnvSandbox, cfg.ResolvedEnvironment())
	require.Equal(t, "https://easyinventory.webflow.io/login", cfg.AuthorizeURL())
	require.Equal(t, "https://apisandbox.dev.clover.com", cfg.CloverBaseURL())
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("TIER", "premium")
	t.Setenv("ENVIRONMENT", "sandbox")

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, policy.EnvSandbox, cfg.ResolvedEnvironment())
	require.Equal(t, "https://apisandbox.dev.clover.com", cfg.CloverBaseURL())
}

func TestEposNowRegionPinning(t *testing.T) {
	t.Setenv("EPOSNOW_REGION", "US")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "https://api-us.eposnowhq.com/api/v4", cfg.EposNowEndpoint())
}

func TestValidateRejectsBadAuthURL(t *testing.T) {
	t.Setenv("AUTH_BASE_URL", "not-a-url")

	_, err := config.Load()
	require.Error(t, err)
}

func TestMasterKey(t *testing.T) {
	t.Run("valid hex key", func(t *testing.T) {
		t.Setenv("VAULT_MASTER_KEY", "0123456789abcdef0123456789abcdef")

		cfg, err := config.Load()
		require.NoError(t, err)

		key, err := cfg.MasterKey()
		require.NoError(t, err)
		require.Len(t, key, 16)
	})

	t.Run("unset key fails", func(t *testing.T) {
		t.Setenv("VAULT_MASTER_KEY", "")

		cfg, err := config.Load()
		require.NoError(t, err)

		_, err = cfg.MasterKey()
		require.Error(t, err)
	})

	t.Run("short key fails", func(t *testing.T) {
		t.Setenv("VAULT_MASTER_KEY", "0123456789abcdef")

		cfg, err := config.Load()
		require.NoError(t, err)

		_, err = cfg.MasterKey()
		require.Error(t, err)
	})

	t.Run("non-hex key fails", func(t *testing.T) {
		t.Setenv("VAULT_MASTER_KEY", "not-hex-at-all")

		cfg, err := config.Load()
		require.NoError(t, err)

		_, err = cfg.MasterKey()
		require.Error(t, err)
	})
}
