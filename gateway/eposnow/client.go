// Package eposnow integrates the EposNow electronic POS service. The
// endpoint is pinned to a deployment region; requests authenticate with an
// API key and secret over HTTP basic auth.
package eposnow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kinvo/easyinventory/gateway"
	"github.com/kinvo/easyinventory/internal/config"
	apperrors "github.com/kinvo/easyinventory/internal/errors"
)

// ProviderID identifies this client to the gateway router and the vault.
const ProviderID = "eposnow"

const (
	pageSize = 100
	// maxPages caps pagination for a single search so a huge catalogue
	// cannot stall the caller.
	maxPages = 5
)

// Client is the EposNow gateway client.
type Client struct {
	baseURL    string
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

// WithBaseURL overrides the region-derived base URL, primarily for tests.
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

// New creates an EposNow client from the runtime configuration.
func New(cfg *config.Config, creds *gateway.CredentialSource, options ...Option) *Client {
	c := &Client{
		baseURL:    cfg.EposNowEndpoint(),
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
	return []gateway.Operation{gateway.OpSearchProducts, gateway.OpUpdateStock, gateway.OpSyncTransactions}
}

// Send implements gateway.Client.
func (c *Client) Send(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	switch req.Operation {
	case gateway.OpSearchProducts:
		return c.searchProducts(ctx, req.Payload)
	case gateway.OpUpdateStock:
		return c.updateStock(ctx, req.Payload)
	case gateway.OpSyncTransactions:
		return c.syncTransactions(ctx, req.Payload)
	default:
		return nil, errors.Wrapf(apperrors.ErrProviderUnavailable, "[eposnow.Send] unsupported operation %q", req.Operation)
	}
}

// product is the EposNow wire shape for a catalogue item.
type product struct {
	ID           int64   `json:"Id"`
	Name         string  `json:"Name"`
	SKU          string  `json:"Sku"`
	Barcode      string  `json:"Barcode"`
	SalePrice    float64 `json:"SalePrice"`
	CurrentStock float64 `json:"CurrentStock"`
}

func (p product) normalize() gateway.Product {
	return gateway.Product{
		ID:      fmt.Sprintf("%d", p.ID),
		Name:    p.Name,
		SKU:     p.SKU,
		Barcode: p.Barcode,
		Price:   p.SalePrice,
		Stock:   p.CurrentStock,
	}
}

// searchProducts pages through the catalogue, accumulating matches until a
// short page, the requested limit, or the page cap is reached.
func (c *Client) searchProducts(ctx context.Context, payload json.RawMessage) (*gateway.Response, error) {
	var searchReq gateway.SearchProductsRequest
	if err := json.Unmarshal(payload, &searchReq); err != nil {
		return nil, errors.Wrapf(apperrors.ErrRejected, "[eposnow.searchProducts] decode payload: %v", err)
	}
	limit := searchReq.Limit
	if limit <= 0 || limit > maxPages*pageSize {
		limit = pageSize
	}

	return c.caller.Do(ctx, func(ctx context.Context) (*gateway.Response, error) {
		header, err := c.authHeader(ctx)
		if err != nil {
			return nil, err
		}

		var results []gateway.Product
		for page := 1; page <= maxPages && len(results) < limit; page++ {
			endpoint := fmt.Sprintf("%s/Product?Search=%s&Page=%d&Limit=%d",
				c.baseURL, url.QueryEscape(searchReq.Query), page, pageSize)
			raw, err := gateway.DoJSON(ctx, c.httpClient, http.MethodGet, endpoint, header, nil)
			if err != nil {
				return nil, err
			}

			var items []product
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, errors.Wrapf(apperrors.ErrRejected, "[eposnow.searchProducts] decode page %d: %v", page, err)
			}
			for _, item := range items {
				results = append(results, item.normalize())
				if len(results) == limit {
					break
				}
			}
			if len(items) < pageSize {
				break
			}
		}

		body, err := json.Marshal(results)
		if err != nil {
			return nil, errors.Wrap(err, "[eposnow.searchProducts] encode results")
		}
		return &gateway.Response{Provider: ProviderID, Body: body}, nil
	})
}

func (c *Client) updateStock(ctx context.Context, payload json.RawMessage) (*gateway.Response, error) {
	var updateReq gateway.UpdateStockRequest
	if err := json.Unmarshal(payload, &updateReq); err != nil {
		return nil, errors.Wrapf(apperrors.ErrRejected, "[eposnow.updateStock] decode payload: %v", err)
	}
	if updateReq.ProductID == "" {
		return nil, errors.Wrap(apperrors.ErrRejected, "[eposnow.updateStock] product id is required")
	}

	return c.caller.Do(ctx, func(ctx context.Context) (*gateway.Response, error) {
		header, err := c.authHeader(ctx)
		if err != nil {
			return nil, err
		}
		body := map[string]any{
			"ProductId":    updateReq.ProductID,
			"CurrentStock": updateReq.Quantity,
		}
		raw, err := gateway.DoJSON(ctx, c.httpClient, http.MethodPut, c.baseURL+"/ProductStock", header, body)
		if err != nil {
			return nil, err
		}
		return &gateway.Response{Provider: ProviderID, Body: raw}, nil
	})
}

func (c *Client) syncTransactions(ctx context.Context, payload json.RawMessage) (*gateway.Response, error) {
	var syncReq gateway.SyncTransactionsRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &syncReq); err != nil {
			return nil, errors.Wrapf(apperrors.ErrRejected, "[eposnow.syncTransactions] decode payload: %v", err)
		}
	}

	return c.caller.Do(ctx, func(ctx context.Context) (*gateway.Response, error) {
		header, err := c.authHeader(ctx)
		if err != nil {
			return nil, err
		}
		endpoint := c.baseURL + "/Transaction"
		if syncReq.Since != "" {
			endpoint += "?Since=" + url.QueryEscape(syncReq.Since)
		}
		raw, err := gateway.DoJSON(ctx, c.httpClient, http.MethodGet, endpoint, header, nil)
		if err != nil {
			return nil, err
		}
		return &gateway.Response{Provider: ProviderID, Body: raw}, nil
	})
}

// authHeader builds the basic auth header from the vault credential. The
// credential's secret is "key:secret" as issued by the EposNow back office.
func (c *Client) authHeader(ctx context.Context) (http.Header, error) {
	cred, err := c.creds.Fetch(ctx, ProviderID)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(cred.Secret, ":") {
		return nil, errors.Wrap(apperrors.ErrRejected, "[eposnow.authHeader] credential secret must be key:secret")
	}
	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(cred.Secret)))
	return header, nil
}

var _ gateway.Client = (*Client)(nil)
