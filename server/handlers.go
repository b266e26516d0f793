package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/kinvo/easyinventory/gateway"
	apperrors "github.com/kinvo/easyinventory/internal/errors"
	"github.com/kinvo/easyinventory/policy"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// LoginHandler starts the redirect login flow and hands back the
// authorization URL that was opened in the browser.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, err := s.sessions.BeginLogin(r.Context())
		if err != nil {
			if errors.Is(err, apperrors.ErrAlreadyInProgress) {
				writeError(w, http.StatusConflict, "a login is already in progress")
				return
			}
			s.log.Error().Err(err).Msg("begin login")
			writeError(w, http.StatusInternalServerError, "could not start login")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"auth_url": authURL})
	}
}

// CallbackHandler receives the browser redirect, rebuilds the registered
// deep-link URI from the query, and completes the code exchange. The
// response is a plain page because a browser is what lands here.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawURI := s.cfg.RedirectURL()
		if r.URL.RawQuery != "" {
			rawURI += "?" + r.URL.RawQuery
		}
		if err := s.sessions.HandleCallback(r.Context(), rawURI); err != nil {
			switch {
			case errors.Is(err, apperrors.ErrAlreadyInProgress):
				writeError(w, http.StatusConflict, "an exchange is already in progress")
			case errors.Is(err, apperrors.ErrInvalidCallback):
				writeError(w, http.StatusBadRequest, "invalid callback")
			case errors.Is(err, apperrors.ErrExchangeFailed):
				s.log.Error().Err(err).Msg("code exchange failed")
				writeError(w, http.StatusBadGateway, "exchange failed")
			default:
				s.log.Error().Err(err).Msg("callback")
				writeError(w, http.StatusInternalServerError, "callback failed")
			}
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body><p>Login complete. You can return to EasyInventory.</p></body></html>"))
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.sessions.Logout(r.Context()); err != nil {
			s.log.Error().Err(err).Msg("logout")
			writeError(w, http.StatusInternalServerError, "logout failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type sessionResponse struct {
	SubjectID string    `json:"subject_id"`
	Plan      string    `json:"plan"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionHandler reports the active session, refreshing it first when it
// has expired and a refresh token is on hand.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.sessions.CurrentSession(r.Context())
		if err != nil {
			if errors.Is(err, apperrors.ErrNotAuthenticated) {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if errors.Is(err, apperrors.ErrCorrupt) {
				s.log.Error().Err(err).Msg("session integrity failure")
				writeError(w, http.StatusUnauthorized, "session unreadable")
				return
			}
			s.log.Error().Err(err).Msg("read session")
			writeError(w, http.StatusInternalServerError, "could not read session")
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{
			SubjectID: session.SubjectID,
			Plan:      s.sessions.PlanLabel(r.Context()),
			ExpiresAt: session.ExpiresAt,
		})
	}
}

type capabilitiesResponse struct {
	Tier         string              `json:"tier"`
	Environment  string              `json:"environment"`
	Capabilities []policy.Capability `json:"capabilities"`
	UpgradeURL   string              `json:"upgrade_url,omitempty"`
}

// CapabilitiesHandler resolves the capability set for the effective tier,
// environment, and session state. The tier stored with the session
// entitlement wins over the build default. Basic tier responses carry the
// upgrade link the app surfaces next to locked features.
func (s *Server) CapabilitiesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, err := s.sessions.CurrentSession(r.Context())
		sessionPresent := err == nil

		tier := s.sessions.EffectiveTier(r.Context())
		env := s.cfg.ResolvedEnvironment()
		caps := policy.CapabilitiesFor(tier, env, sessionPresent)

		resp := capabilitiesResponse{
			Tier:         string(tier),
			Environment:  string(env),
			Capabilities: caps.List(),
		}
		if tier == policy.TierBasic {
			resp.UpgradeURL = s.cfg.UpgradeURL
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// GatewayHandler forwards the request body to the named gateway operation.
func (s *Server) GatewayHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op := gateway.Operation(chi.URLParam(r, "operation"))

		raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable request body")
			return
		}
		payload := json.RawMessage(raw)

		resp, err := s.gateway.Send(r.Context(), op, payload)
		if err != nil {
			s.writeGatewayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"provider": resp.Provider,
			"body":     json.RawMessage(resp.Body),
		})
	}
}

func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrProviderUnavailable):
		writeError(w, http.StatusForbidden, "operation not available")
	case errors.Is(err, apperrors.ErrRejected):
		writeError(w, http.StatusUnprocessableEntity, "provider rejected the request")
	case errors.Is(err, apperrors.ErrProviderDegraded), errors.Is(err, apperrors.ErrTransient):
		writeError(w, http.StatusServiceUnavailable, "provider temporarily unavailable")
	case errors.Is(err, apperrors.ErrNotFound):
		writeError(w, http.StatusNotFound, "provider credentials not configured")
	default:
		s.log.Error().Err(err).Msg("gateway dispatch")
		writeError(w, http.StatusInternalServerError, "gateway error")
	}
}

func (s *Server) ActiveProviderHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"provider": s.gateway.ActiveProvider(r.Context())})
	}
}

func (s *Server) SetProviderHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Provider string `json:"provider"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Provider == "" {
			writeError(w, http.StatusBadRequest, "provider is required")
			return
		}
		if err := s.gateway.SetActiveProvider(r.Context(), body.Provider); err != nil {
			s.writeGatewayError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
