package gateway

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/kinvo/easyinventory/vault"
)

// Credential is a provider-scoped secret. Credentials live in the vault with
// a lifecycle independent from the membership session, and clients fetch
// them at call time rather than caching them.
type Credential struct {
	ProviderID string            `json:"provider_id"`
	Secret     string            `json:"secret"`
	Region     string            `json:"region,omitempty"`
	BaseURL    string            `json:"base_url,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// CredentialKey returns the vault key for a provider's credential.
func CredentialKey(providerID string) string {
	return "provider/" + providerID
}

// CredentialSource loads and stores provider credentials in the vault.
type CredentialSource struct {
	vault *vault.Vault
}

// NewCredentialSource creates a CredentialSource over the given vault.
func NewCredentialSource(v *vault.Vault) *CredentialSource {
	return &CredentialSource{vault: v}
}

// Fetch loads the credential for a provider. Missing credentials surface as
// the vault's ErrNotFound.
func (s *CredentialSource) Fetch(ctx context.Context, providerID string) (*Credential, error) {
	raw, err := s.vault.Get(ctx, CredentialKey(providerID))
	if err != nil {
		return nil, errors.Wrapf(err, "[CredentialSource.Fetch] provider %q", providerID)
	}
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, errors.Wrapf(err, "[CredentialSource.Fetch] decode credential for %q", providerID)
	}
	return &cred, nil
}

// Store writes a provider credential to the vault.
func (s *CredentialSource) Store(ctx context.Context, cred *Credential) error {
	if cred == nil || cred.ProviderID == "" {
		return errors.New("[CredentialSource.Store] provider id is required")
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		return errors.Wrap(err, "[CredentialSource.Store] encode credential")
	}
	err = s.vault.Put(ctx, CredentialKey(cred.ProviderID), raw)
	return errors.Wrapf(err, "[CredentialSource.Store] provider %q", cred.ProviderID)
}

// Delete removes a provider credential.
func (s *CredentialSource) Delete(ctx context.Context, providerID string) error {
	err := s.vault.Delete(ctx, CredentialKey(providerID))
	return errors.Wrapf(err, "[CredentialSource.Delete] provider %q", providerID)
}
