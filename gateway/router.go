package gateway

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kinvo/easyinventory/internal/config"
	apperrors "github.com/kinvo/easyinventory/internal/errors"
	"github.com/kinvo/easyinventory/policy"
	"github.com/kinvo/easyinventory/vault"
)

// activeProviderKey is the vault entry recording the user's provider choice
// for operations more than one backend can serve.
const activeProviderKey = "gateway/active-provider"

// operationCapability maps each operation to the capability that must be
// active for it to dispatch.
var operationCapability = map[Operation]policy.Capability{
	OpCharge:           policy.CapCharge,
	OpChargeStatus:     policy.CapChargeStatus,
	OpSearchProducts:   policy.CapProductSearch,
	OpUpdateStock:      policy.CapStockUpdate,
	OpSyncTransactions: policy.CapTransactionSync,
}

// SessionPresence reports the authentication state feeding capability
// checks. The auth session manager satisfies this directly so the gateway
// does not depend on the login flow.
type SessionPresence interface {
	SessionPresent(ctx context.Context) bool
	// EntitledTier reports the tier granted by the stored session
	// entitlement, when one exists.
	EntitledTier(ctx context.Context) (policy.Tier, bool)
}

// Router resolves logical operations to concrete gateway clients.
type Router struct {
	cfg      *config.Config
	vault    *vault.Vault
	presence SessionPresence
	clients  map[string]Client
	log      zerolog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the router's logger.
func WithRouterLogger(log zerolog.Logger) RouterOption {
	return func(r *Router) {
		r.log = log
	}
}

// NewRouter creates a Router over the given clients.
func NewRouter(cfg *config.Config, v *vault.Vault, presence SessionPresence, clients []Client, options ...RouterOption) (*Router, error) {
	if cfg == nil {
		return nil, errors.New("[gateway.NewRouter] config is required")
	}
	if v == nil {
		return nil, errors.New("[gateway.NewRouter] vault is required")
	}
	if presence == nil {
		return nil, errors.New("[gateway.NewRouter] session presence is required")
	}

	r := &Router{
		cfg:      cfg,
		vault:    v,
		presence: presence,
		clients:  make(map[string]Client, len(clients)),
		log:      zerolog.Nop(),
	}
	for _, client := range clients {
		r.clients[client.ProviderID()] = client
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// Send dispatches an operation to the resolved backend. Operations whose
// capability is not active, or for which no client is configured, fail with
// ErrProviderUnavailable.
func (r *Router) Send(ctx context.Context, op Operation, payload json.RawMessage) (*Response, error) {
	capability, ok := operationCapability[op]
	if !ok {
		return nil, errors.Wrapf(apperrors.ErrProviderUnavailable, "[Router.Send] unknown operation %q", op)
	}

	caps := policy.CapabilitiesFor(r.effectiveTier(ctx), r.cfg.ResolvedEnvironment(), r.presence.SessionPresent(ctx))
	if !caps.Has(capability) {
		return nil, errors.Wrapf(apperrors.ErrProviderUnavailable, "[Router.Send] capability %q not active", capability)
	}

	client, err := r.resolveClient(ctx, op)
	if err != nil {
		return nil, err
	}

	r.log.Debug().Str("operation", string(op)).Str("provider", client.ProviderID()).Msg("dispatching gateway call")
	return client.Send(ctx, Request{Operation: op, Payload: payload})
}

// SetActiveProvider records the preferred backend for operations multiple
// providers can serve. Switching providers is itself a gated capability.
func (r *Router) SetActiveProvider(ctx context.Context, providerID string) error {
	caps := policy.CapabilitiesFor(r.effectiveTier(ctx), r.cfg.ResolvedEnvironment(), r.presence.SessionPresent(ctx))
	if !caps.Has(policy.CapProviderSwitch) {
		return errors.Wrap(apperrors.ErrProviderUnavailable, "[Router.SetActiveProvider] provider switching not active")
	}
	if _, ok := r.clients[providerID]; !ok {
		return errors.Wrapf(apperrors.ErrProviderUnavailable, "[Router.SetActiveProvider] unknown provider %q", providerID)
	}
	err := r.vault.Put(ctx, activeProviderKey, []byte(providerID))
	return errors.Wrap(err, "[Router.SetActiveProvider] persist choice")
}

// effectiveTier resolves the tier for capability checks: the entitlement
// stored with the session wins over the configured default.
func (r *Router) effectiveTier(ctx context.Context) policy.Tier {
	if tier, ok := r.presence.EntitledTier(ctx); ok {
		return tier
	}
	return r.cfg.Tier
}

// ActiveProvider returns the persisted provider choice, or empty when none
// has been recorded.
func (r *Router) ActiveProvider(ctx context.Context) string {
	raw, err := r.vault.Get(ctx, activeProviderKey)
	if err != nil {
		return ""
	}
	return string(raw)
}

// resolveClient picks the client serving op, preferring the persisted
// provider choice when several qualify.
func (r *Router) resolveClient(ctx context.Context, op Operation) (Client, error) {
	var candidates []string
	for id, client := range r.clients {
		for _, supported := range client.Operations() {
			if supported == op {
				candidates = append(candidates, id)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return nil, errors.Wrapf(apperrors.ErrProviderUnavailable, "[Router.resolveClient] no client for %q", op)
	}

	if active := r.ActiveProvider(ctx); active != "" {
		for _, id := range candidates {
			if id == active {
				return r.clients[id], nil
			}
		}
	}

	sort.Strings(candidates)
	return r.clients[candidates[0]], nil
}
