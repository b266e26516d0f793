// Package config holds the runtime configuration for the EasyInventory core.
// Tier and environment selection, expressed as compile-time build variants in
// the mobile shell, are modeled here as an injected struct so the same binary
// can run (and be tested) as any tier.
package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"

	"github.com/kinvo/easyinventory/policy"
)

// Config is the full runtime configuration. Defaults mirror the shipped
// build-config constants of the mobile application.
type Config struct {
	// Licensing
	Tier        policy.Tier `env:"TIER" envDefault:"basic"`
	Environment string      `env:"ENVIRONMENT"` // empty derives from tier

	// Identity provider
	AuthBaseURL     string `env:"AUTH_BASE_URL"      envDefault:"https://easyinventory.io"`
	DemoAuthBaseURL string `env:"DEMO_AUTH_BASE_URL" envDefault:"https://easyinventory.webflow.io"`
	AuthorizePath   string `env:"AUTHORIZE_PATH"     envDefault:"/login"`
	TokenPath       string `env:"TOKEN_PATH"         envDefault:"/oauth/token"`
	ClientID        string `env:"AUTH_CLIENT_ID"     envDefault:"easyinventory-app"`

	// Deep-link redirect target; the callback URI must match these exactly.
	CallbackScheme     string `env:"CALLBACK_SCHEME"      envDefault:"easyinventory"`
	CallbackHost       string `env:"CALLBACK_HOST"        envDefault:"app.easyinventory.io"`
	CallbackPathPrefix string `env:"CALLBACK_PATH_PREFIX" envDefault:"/auth/callback"`

	// Payment processor (Clover)
	CloverSandboxURL    string `env:"CLOVER_SANDBOX_URL"    envDefault:"https://apisandbox.dev.clover.com"`
	CloverProductionURL string `env:"CLOVER_PRODUCTION_URL" envDefault:"https://api.clover.com"`
	CloverMerchantID    string `env:"CLOVER_MERCHANT_ID"`

	// Electronic POS (EposNow), region-pinned
	EposNowRegion  string `env:"EPOSNOW_REGION" envDefault:"uk"`
	EposNowBaseURL string `env:"EPOSNOW_BASE_URL"` // empty derives from region

	// Gateway resilience tuning
	GatewayTimeout    time.Duration `env:"GATEWAY_TIMEOUT"     envDefault:"10s"`
	GatewayMaxRetries uint64        `env:"GATEWAY_MAX_RETRIES" envDefault:"3"`
	BreakerThreshold  uint32        `env:"BREAKER_THRESHOLD"   envDefault:"5"`
	BreakerCooldown   time.Duration `env:"BREAKER_COOLDOWN"    envDefault:"30s"`

	// Vault
	VaultPath      string `env:"VAULT_PATH"       envDefault:"./data/vault.db"`
	VaultMasterKey string `env:"VAULT_MASTER_KEY"` // hex, required by cmd/server

	// Companion server
	Port string `env:"PORT" envDefault:"8080"`

	// Upgrade / plans page shown when a basic install hits a premium gate
	UpgradeURL string `env:"UPGRADE_URL" envDefault:"https://easyinventory.io/plans"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "[config.Load] parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts of the configuration the core cannot run
// without.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"AUTH_BASE_URL":      c.AuthBaseURL,
		"DEMO_AUTH_BASE_URL": c.DemoAuthBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.Errorf("[Config.Validate] %s is not an absolute URL: %q", name, raw)
		}
	}
	if c.CallbackScheme == "" || c.CallbackHost == "" || !strings.HasPrefix(c.CallbackPathPrefix, "/") {
		return errors.New("[Config.Validate] callback scheme, host and path prefix are required")
	}
	if c.ClientID == "" {
		return errors.New("[Config.Validate] AUTH_CLIENT_ID is required")
	}
	return nil
}

// MasterKey decodes VAULT_MASTER_KEY and enforces the minimum length the
// vault's key derivation accepts, so a misconfigured daemon fails at
// startup rather than on the first vault operation.
func (c *Config) MasterKey() ([]byte, error) {
	if c.VaultMasterKey == "" {
		return nil, errors.New("[Config.MasterKey] VAULT_MASTER_KEY is required")
	}
	key, err := hex.DecodeString(c.VaultMasterKey)
	if err != nil {
		return nil, errors.Wrap(err, "[Config.MasterKey] VAULT_MASTER_KEY must be hex")
	}
	if len(key) < 16 {
		return nil, errors.Errorf("[Config.MasterKey] VAULT_MASTER_KEY must be at least 16 bytes, got %d", len(key))
	}
	return key, nil
}

// ResolvedEnvironment returns the backend environment for this installation.
// Demo is always sandbox, whatever ENVIRONMENT says.
func (c *Config) ResolvedEnvironment() policy.Environment {
	return policy.EffectiveEnvironment(c.Tier, c.Environment)
}

// AuthBase returns the IdP base URL for this tier: demo installations log in
// against the demo membership site.
func (c *Config) AuthBase() string {
	if c.Tier == policy.TierDemo {
		return c.DemoAuthBaseURL
	}
	return c.AuthBaseURL
}

// AuthorizeURL returns the full IdP authorization endpoint.
func (c *Config) AuthorizeURL() string {
	return strings.TrimRight(c.AuthBase(), "/") + c.AuthorizePath
}

// TokenURL returns the full IdP token endpoint.
func (c *Config) TokenURL() string {
	return strings.TrimRight(c.AuthBase(), "/") + c.TokenPath
}

// RedirectURL returns the deep-link redirect target registered with the IdP.
func (c *Config) RedirectURL() string {
	return fmt.Sprintf("%s://%s%s", c.CallbackScheme, c.CallbackHost, c.CallbackPathPrefix)
}

// CloverBaseURL resolves the payment processor endpoint for the effective
// environment.
func (c *Config) CloverBaseURL() string {
	if c.ResolvedEnvironment() == policy.EnvProduction {
		return c.CloverProductionURL
	}
	return c.CloverSandboxURL
}

// EposNowEndpoint resolves the region-pinned POS endpoint. An explicit
// EPOSNOW_BASE_URL overrides the region derivation.
func (c *Config) EposNowEndpoint() string {
	if c.EposNowBaseURL != "" {
		return c.EposNowBaseURL
	}
	region := strings.ToLower(strings.TrimSpace(c.EposNowRegion))
	if region == "" || region == "uk" {
		return "https://api.eposnowhq.com/api/v4"
	}
	return fmt.Sprintf("https://api-%s.eposnowhq.com/api/v4", region)
}
