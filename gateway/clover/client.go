// Package clover integrates the Clover payment processor. The base URL is
// environment-dependent: demo and sandbox installations run against the
// Clover sandbox, everything else against production.
package clover

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kinvo/easyinventory/gateway"
	"github.com/kinvo/easyinventory/internal/config"
	apperrors "github.com/kinvo/easyinventory/internal/errors"
)

// ProviderID identifies this client to the gateway router and the vault.
const ProviderID = "clover"

// Client is the Clover gateway client.
type Client struct {
	baseURL    string
	merchantID string
	creds      *gateway.CredentialSource
	httpClient *http.Client
	caller     *gateway.Caller
	log        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithBaseURL overrides the resolved base URL, primarily for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the client's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a Clover client from the runtime configuration.
func New(cfg *config.Config, creds *gateway.CredentialSource, options ...Option) *Client {
	c := &Client{
		baseURL:    cfg.CloverBaseURL(),
		merchantID: cfg.CloverMerchantID,
		creds:      creds,
		httpClient: http.DefaultClient,
		log:        zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	c.caller = gateway.NewCaller(ProviderID, gateway.CallerConfig{
		Timeout:          cfg.GatewayTimeout,
		MaxRetries:       cfg.GatewayMaxRetries,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
	}, c.log)
	return c
}

// ProviderID implements gateway.Client.
func (c *Client) ProviderID() string {
	return ProviderID
}

// Operations implements gateway.Client.
func (c *Client) Operations() []gateway.Operation {
	return []gateway.Operation{gateway.OpCharge, gateway.OpChargeStatus}
}

// Send implements gateway.Client.
func (c *Client) Send(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	switch req.Operation {
	case gateway.OpCharge:
		return c.charge(ctx, req.Payload)
	case gateway.OpChargeStatus:
		return c.chargeStatus(ctx, req.Payload)
	default:
		return nil, errors.Wrapf(apperrors.ErrProviderUnavailable, "[clover.Send] unsupported operation %q", req.Operation)
	}
}

func (c *Client) charge(ctx context.Context, payload json.RawMessage) (*gateway.Response, error) {
	var chargeReq gateway.ChargeRequest
	if err := json.Unmarshal(payload, &chargeReq); err != nil {
		return nil, errors.Wrapf(apperrors.ErrRejected, "[clover.charge] decode payload: %v", err)
	}
	if chargeReq.Amount <= 0 || chargeReq.Source == "" {
		return nil, errors.Wrap(apperrors.ErrRejected, "[clover.charge] amount and source are required")
	}
	if chargeReq.Currency == "" {
		chargeReq.Currency = "usd"
	}

	return c.caller.Do(ctx, func(ctx context.Context) (*gateway.Response, error) {
		header, err := c.authHeader(ctx)
		if err != nil {
			return nil, err
		}
		body := map[string]any{
			"amount":   chargeReq.Amount,
			"currency": chargeReq.Currency,
			"source":   chargeReq.Source,
		}
		if chargeReq.ExternalRef != "" {
			body["external_reference_id"] = chargeReq.ExternalRef
		}
		raw, err := gateway.DoJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/v1/charges", header, body)
		if err != nil {
			return nil, err
		}
		return &gateway.Response{Provider: ProviderID, Body: raw}, nil
	})
}

func (c *Client) chargeStatus(ctx context.Context, payload json.RawMessage) (*gateway.Response, error) {
	var statusReq gateway.ChargeStatusRequest
	if err := json.Unmarshal(payload, &statusReq); err != nil {
		return nil, errors.Wrapf(apperrors.ErrRejected, "[clover.chargeStatus] decode payload: %v", err)
	}
	if statusReq.ChargeID == "" {
		return nil, errors.Wrap(apperrors.ErrRejected, "[clover.chargeStatus] charge id is required")
	}

	return c.caller.Do(ctx, func(ctx context.Context) (*gateway.Response, error) {
		header, err := c.authHeader(ctx)
		if err != nil {
			return nil, err
		}
		endpoint := c.baseURL + "/v1/charges/" + url.PathEscape(statusReq.ChargeID)
		raw, err := gateway.DoJSON(ctx, c.httpClient, http.MethodGet, endpoint, header, nil)
		if err != nil {
			return nil, err
		}
		return &gateway.Response{Provider: ProviderID, Body: raw}, nil
	})
}

// authHeader fetches the provider credential from the vault at call time.
// Tokens are never cached beyond the single request.
func (c *Client) authHeader(ctx context.Context) (http.Header, error) {
	cred, err := c.creds.Fetch(ctx, ProviderID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Secret)
	if merchant := c.merchant(cred); merchant != "" {
		header.Set("X-Clover-Merchant-Id", merchant)
	}
	return header, nil
}

func (c *Client) merchant(cred *gateway.Credential) string {
	if cred != nil && cred.Extra["merchant_id"] != "" {
		return cred.Extra["merchant_id"]
	}
	return c.merchantID
}

var _ gateway.Client = (*Client)(nil)
