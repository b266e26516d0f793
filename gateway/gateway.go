// Package gateway provides a uniform interface over the external POS and
// payment backends. Callers submit logical operations; the router resolves
// them to a concrete client based on the active capability set, and every
// outbound call goes through a shared retry and circuit-breaker policy.
package gateway

import (
	"context"
	"encoding/json"
)

// Operation is a logical backend operation, independent of which provider
// serves it.
type Operation string

const (
	OpCharge           Operation = "charge"
	OpChargeStatus     Operation = "charge-status"
	OpSearchProducts   Operation = "search-products"
	OpUpdateStock      Operation = "update-stock"
	OpSyncTransactions Operation = "sync-transactions"
)

// Request is a dispatched operation with its provider-independent payload.
type Request struct {
	Operation Operation
	Payload   json.RawMessage
}

// Response is the normalized result of a gateway call.
type Response struct {
	Provider string          `json:"provider"`
	Body     json.RawMessage `json:"body"`
}

// Client is one concrete backend integration.
type Client interface {
	ProviderID() string
	Operations() []Operation
	Send(ctx context.Context, req Request) (*Response, error)
}

// Product is the normalized inventory item shape shared by POS backends.
type Product struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	SKU     string  `json:"sku,omitempty"`
	Barcode string  `json:"barcode,omitempty"`
	Price   float64 `json:"price"`
	Stock   float64 `json:"stock"`
}

// SearchProductsRequest is the payload for OpSearchProducts.
type SearchProductsRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// UpdateStockRequest is the payload for OpUpdateStock.
type UpdateStockRequest struct {
	ProductID string  `json:"product_id"`
	Quantity  float64 `json:"quantity"`
}

// ChargeRequest is the payload for OpCharge. Amount is in the currency's
// minor unit.
type ChargeRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Source      string `json:"source"`
	ExternalRef string `json:"external_ref,omitempty"`
}

// ChargeStatusRequest is the payload for OpChargeStatus.
type ChargeStatusRequest struct {
	ChargeID string `json:"charge_id"`
}

// SyncTransactionsRequest is the payload for OpSyncTransactions.
type SyncTransactionsRequest struct {
	Since string `json:"since,omitempty"` // RFC 3339
}
