package authsession

import (
	"time"

	"github.com/kinvo/easyinventory/policy"
)

// Session is the authenticated membership session. It is owned exclusively
// by the Manager and persisted encrypted in the vault; at most one Session
// exists per installation.
type Session struct {
	IssuedAt     time.Time `json:"issued_at"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	SubjectID    string    `json:"subject_id"`
	// PlanName is the marketing plan label returned by the membership
	// provider, shown in place of the bare tier name when present.
	PlanName string `json:"plan_name,omitempty"`
	// Tier is the entitlement granted by the membership server. When set it
	// wins over the installation's configured tier.
	Tier policy.Tier `json:"tier,omitempty"`
}

// Expired reports whether the session's access token has expired at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
