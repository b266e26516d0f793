// Package authsession drives the redirect-based membership login flow: it
// opens the IdP's hosted login page in an external browser, validates the
// deep-link callback, exchanges the authorization code for tokens, and owns
// the persisted Session.
package authsession

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/kinvo/easyinventory/internal/config"
	apperrors "github.com/kinvo/easyinventory/internal/errors"
	"github.com/kinvo/easyinventory/policy"
	"github.com/kinvo/easyinventory/vault"
)

// SessionVaultKey is the vault entry holding the serialized Session.
const SessionVaultKey = "auth/session"

// defaultSessionTTL is used when the token response carries no expiry.
const defaultSessionTTL = time.Hour

// State is the login flow state.
type State int

const (
	StateLoggedOut State = iota
	StateAwaitingCallback
	StateExchanging
	StateLoggedIn
)

func (s State) String() string {
	switch s {
	case StateAwaitingCallback:
		return "AwaitingCallback"
	case StateExchanging:
		return "Exchanging"
	case StateLoggedIn:
		return "LoggedIn"
	default:
		return "LoggedOut"
	}
}

// Manager is the auth session state machine. All state transitions are
// serialized behind one mutex; out-of-state calls fail fast instead of
// queueing.
type Manager struct {
	cfg     *config.Config
	oauth   *oauth2.Config
	vault   *vault.Vault
	browser Browser

	httpClient *http.Client
	nowTime    func() time.Time
	log        zerolog.Logger

	mu             sync.Mutex
	state          State
	stateHash      []byte
	cancelExchange context.CancelFunc

	// refreshMu serializes token refreshes so a rotated (single-use)
	// refresh token is never presented twice.
	refreshMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithHTTPClient sets the HTTP client used for token exchange and refresh.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithLogger sets the manager's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// New creates a Manager. cfg, v, and browser are required.
func New(cfg *config.Config, v *vault.Vault, browser Browser, options ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("[authsession.New] config is required")
	}
	if v == nil {
		return nil, errors.New("[authsession.New] vault is required")
	}
	if browser == nil {
		return nil, errors.New("[authsession.New] browser is required")
	}

	m := &Manager{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizeURL(),
				TokenURL: cfg.TokenURL(),
			},
			RedirectURL: cfg.RedirectURL(),
		},
		vault:   v,
		browser: browser,
		nowTime: time.Now,
		log:     zerolog.Nop(),
		state:   StateLoggedOut,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// State returns the current flow state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// BeginLogin starts a login flow: it constructs the authorization URL, hands
// it to the browser, and moves to AwaitingCallback. Only valid from
// LoggedOut.
func (m *Manager) BeginLogin(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state != StateLoggedOut {
		m.mu.Unlock()
		return "", errors.Wrapf(apperrors.ErrAlreadyInProgress, "[Manager.BeginLogin] state %s", m.state)
	}

	state := uuid.New().String()
	hash := sha256.Sum256([]byte(state))
	m.stateHash = hash[:]
	m.state = StateAwaitingCallback
	authURL := m.oauth.AuthCodeURL(state)
	m.mu.Unlock()

	if err := m.browser.OpenURL(ctx, authURL); err != nil {
		m.mu.Lock()
		if m.state == StateAwaitingCallback {
			m.reset()
		}
		m.mu.Unlock()
		return "", errors.Wrap(err, "[Manager.BeginLogin] open browser")
	}

	m.log.Debug().Str("state", m.state.String()).Msg("login flow started")
	return authURL, nil
}

// HandleCallback consumes the deep-link redirect from the IdP. The URI's
// scheme, host, and path prefix must exactly match the configured redirect
// target, and the state parameter must round-trip from BeginLogin. Only
// valid from AwaitingCallback; a duplicate delivery while an exchange is in
// flight fails with ErrAlreadyInProgress so the same code is never exchanged
// twice.
func (m *Manager) HandleCallback(ctx context.Context, rawURI string) error {
	m.mu.Lock()
	switch m.state {
	case StateAwaitingCallback:
	case StateExchanging:
		m.mu.Unlock()
		return errors.Wrap(apperrors.ErrAlreadyInProgress, "[Manager.HandleCallback] exchange in flight")
	default:
		m.mu.Unlock()
		return errors.Wrapf(apperrors.ErrInvalidCallback, "[Manager.HandleCallback] no login in progress (state %s)", m.state)
	}

	code, err := m.validateCallback(rawURI)
	if err != nil {
		// Stay in AwaitingCallback: a spoofed callback from another app
		// must not abort the user's real login.
		m.mu.Unlock()
		return err
	}

	exchCtx, cancel := context.WithCancel(ctx)
	m.cancelExchange = cancel
	m.state = StateExchanging
	m.mu.Unlock()

	token, exchangeErr := m.oauth.Exchange(m.withHTTPClient(exchCtx), code)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelExchange = nil

	if m.state != StateExchanging {
		// Logout or cancellation won the race; discard the result.
		return errors.Wrap(apperrors.ErrExchangeFailed, "[Manager.HandleCallback] login aborted")
	}
	if exchangeErr != nil {
		m.reset()
		return errors.Wrapf(apperrors.ErrExchangeFailed, "[Manager.HandleCallback] %v", exchangeErr)
	}

	session, err := m.buildSession(token)
	if err != nil {
		m.reset()
		return err
	}
	if err := m.persistSession(ctx, session); err != nil {
		m.reset()
		return err
	}

	m.state = StateLoggedIn
	m.stateHash = nil
	m.log.Info().Str("subject", session.SubjectID).Time("expires_at", session.ExpiresAt).Msg("login complete")
	return nil
}

// Logout deletes the persisted session and returns to LoggedOut. Safe to
// call from any state, including when no session exists.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.cancelExchange != nil {
		m.cancelExchange()
		m.cancelExchange = nil
	}
	m.reset()
	m.mu.Unlock()

	if err := m.vault.Delete(ctx, SessionVaultKey); err != nil {
		return errors.Wrap(err, "[Manager.Logout] delete session")
	}
	m.log.Debug().Msg("logged out")
	return nil
}

// CurrentSession returns the persisted session if present and not expired.
// An expired session with a refresh token is refreshed first; if refresh is
// unavailable or fails the manager forces LoggedOut and reports
// ErrNotAuthenticated.
func (m *Manager) CurrentSession(ctx context.Context) (*Session, error) {
	session, err := m.readSession(ctx)
	if err != nil {
		return nil, err
	}

	if !session.Expired(m.nowTime()) {
		m.promoteLoggedIn()
		return session, nil
	}

	if session.RefreshToken == "" {
		_ = m.vault.Delete(ctx, SessionVaultKey)
		m.forceLoggedOut()
		return nil, errors.Wrap(apperrors.ErrNotAuthenticated, "[Manager.CurrentSession] session expired")
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// A concurrent caller may have replaced the session while we waited
	// for the lock; presenting the old refresh token again would burn a
	// rotated one.
	session, err = m.readSession(ctx)
	if err != nil {
		return nil, err
	}
	if !session.Expired(m.nowTime()) {
		m.promoteLoggedIn()
		return session, nil
	}

	refreshed, err := m.refresh(ctx, session)
	if err != nil {
		_ = m.vault.Delete(ctx, SessionVaultKey)
		m.forceLoggedOut()
		return nil, errors.Wrapf(apperrors.ErrNotAuthenticated, "[Manager.CurrentSession] refresh failed: %v", err)
	}

	m.promoteLoggedIn()
	return refreshed, nil
}

// readSession loads and decodes the persisted session without touching its
// expiry.
func (m *Manager) readSession(ctx context.Context) (*Session, error) {
	raw, err := m.vault.Get(ctx, SessionVaultKey)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			m.forceLoggedOut()
			return nil, errors.Wrap(apperrors.ErrNotAuthenticated, "[Manager.readSession] no session")
		}
		// Corrupt entries surface as-is so the integrity failure is
		// observable, but the session is unusable either way.
		m.forceLoggedOut()
		return nil, errors.Wrap(err, "[Manager.readSession] read session")
	}

	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		m.forceLoggedOut()
		return nil, errors.Wrapf(apperrors.ErrCorrupt, "[Manager.readSession] decode session: %v", err)
	}
	return &session, nil
}

// PlanLabel returns the best label for the active plan: the plan name stored
// with the session when available, otherwise the tier's display name.
func (m *Manager) PlanLabel(ctx context.Context) string {
	if session, err := m.CurrentSession(ctx); err == nil && strings.TrimSpace(session.PlanName) != "" {
		return strings.TrimSpace(session.PlanName)
	}
	return m.cfg.Tier.DisplayName()
}

// SessionPresent reports whether a usable session exists, refreshing an
// expired one along the way. It satisfies the gateway's presence check.
func (m *Manager) SessionPresent(ctx context.Context) bool {
	_, err := m.CurrentSession(ctx)
	return err == nil
}

// EntitledTier reports the tier granted by the stored session entitlement,
// when a session with one exists.
func (m *Manager) EntitledTier(ctx context.Context) (policy.Tier, bool) {
	if session, err := m.CurrentSession(ctx); err == nil && session.Tier != "" {
		return session.Tier, true
	}
	return "", false
}

// EffectiveTier resolves the tier in effect for this installation: the
// server-granted entitlement wins over the configured default, so a basic
// build whose membership covers Premium gets premium capabilities.
func (m *Manager) EffectiveTier(ctx context.Context) policy.Tier {
	if tier, ok := m.EntitledTier(ctx); ok {
		return tier
	}
	return m.cfg.Tier
}

// validateCallback checks the redirect URI against the configured target and
// returns the authorization code. Callers hold m.mu.
func (m *Manager) validateCallback(rawURI string) (string, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", errors.Wrapf(apperrors.ErrInvalidCallback, "[Manager.validateCallback] unparseable uri: %v", err)
	}

	// Exact comparison, not best-effort matching: anything else invites
	// callback injection from other apps sharing the scheme.
	if u.Scheme != m.cfg.CallbackScheme {
		return "", errors.Wrapf(apperrors.ErrInvalidCallback, "[Manager.validateCallback] scheme %q", u.Scheme)
	}
	if u.Host != m.cfg.CallbackHost {
		return "", errors.Wrapf(apperrors.ErrInvalidCallback, "[Manager.validateCallback] host %q", u.Host)
	}
	if !strings.HasPrefix(u.Path, m.cfg.CallbackPathPrefix) {
		return "", errors.Wrapf(apperrors.ErrInvalidCallback, "[Manager.validateCallback] path %q", u.Path)
	}

	query := u.Query()
	code := query.Get("code")
	if code == "" {
		return "", errors.Wrap(apperrors.ErrInvalidCallback, "[Manager.validateCallback] missing code")
	}

	if len(m.stateHash) > 0 {
		got := sha256.Sum256([]byte(query.Get("state")))
		if subtle.ConstantTimeCompare(got[:], m.stateHash) != 1 {
			return "", errors.Wrap(apperrors.ErrInvalidCallback, "[Manager.validateCallback] state mismatch")
		}
	}

	return code, nil
}

// refresh exchanges the refresh token for a new token pair and persists the
// replacement session.
func (m *Manager) refresh(ctx context.Context, old *Session) (*Session, error) {
	source := m.oauth.TokenSource(m.withHTTPClient(ctx), &oauth2.Token{RefreshToken: old.RefreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, errors.Wrapf(apperrors.ErrExchangeFailed, "[Manager.refresh] %v", err)
	}

	session, err := m.buildSession(token)
	if err != nil {
		return nil, err
	}
	if session.SubjectID == "" {
		session.SubjectID = old.SubjectID
	}
	if session.RefreshToken == "" {
		// The IdP did not rotate the refresh token; keep the old one.
		session.RefreshToken = old.RefreshToken
	}
	if session.PlanName == "" {
		session.PlanName = old.PlanName
	}
	if session.Tier == "" {
		session.Tier = old.Tier
	}
	if session.SubjectID == "" {
		return nil, errors.Wrap(apperrors.ErrExchangeFailed, "[Manager.refresh] token response missing subject")
	}

	if err := m.persistSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// buildSession converts a token response into a Session. The subject is
// required for a fresh login; refresh falls back to the prior session's.
func (m *Manager) buildSession(token *oauth2.Token) (*Session, error) {
	now := m.nowTime()
	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultSessionTTL)
	}

	planName := extraString(token, "plan", "plan_name")
	return &Session{
		IssuedAt:     now,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt,
		SubjectID:    subjectFromToken(token),
		PlanName:     planName,
		Tier:         entitledTier(token, planName),
	}, nil
}

// entitledTier resolves the server-granted tier from the token response: an
// explicit tier field wins, otherwise the tier is read off the plan label.
func entitledTier(token *oauth2.Token, planName string) policy.Tier {
	if t := extraString(token, "tier"); t != "" {
		return policy.ParseTier(t)
	}
	if t, ok := policy.TierFromPlan(planName); ok {
		return t
	}
	return ""
}

// persistSession writes the session to the vault. A single-key put is atomic
// by the vault's contract, so the prior session is never readable once the
// new one is visible.
func (m *Manager) persistSession(ctx context.Context, session *Session) error {
	if session.SubjectID == "" {
		return errors.Wrap(apperrors.ErrExchangeFailed, "[Manager.persistSession] token response missing subject")
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "[Manager.persistSession] encode session")
	}
	if err := m.vault.Put(ctx, SessionVaultKey, raw); err != nil {
		return errors.Wrap(err, "[Manager.persistSession] store session")
	}
	return nil
}

// reset clears flow state back to LoggedOut. Callers hold m.mu.
func (m *Manager) reset() {
	m.state = StateLoggedOut
	m.stateHash = nil
}

func (m *Manager) forceLoggedOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateLoggedIn {
		m.reset()
	}
}

func (m *Manager) promoteLoggedIn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateLoggedOut {
		m.state = StateLoggedIn
	}
}

func (m *Manager) withHTTPClient(ctx context.Context) context.Context {
	if m.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	return ctx
}

// subjectFromToken extracts the authenticated subject from the access token's
// JWT claims, falling back to well-known extra fields for opaque tokens.
func subjectFromToken(token *oauth2.Token) string {
	if claims := parseClaims(token.AccessToken); claims != nil {
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			return sub
		}
	}
	return extraString(token, "sub", "member_id", "user_id")
}

func parseClaims(raw string) jwt.MapClaims {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil
	}
	return claims
}

func extraString(token *oauth2.Token, keys ...string) string {
	for _, key := range keys {
		if v, ok := token.Extra(key).(string); ok && v != "" {
			return v
		}
	}
	return ""
}
