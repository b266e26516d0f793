// Package server exposes the local companion API consumed by the
// EasyInventory app: login orchestration, session inspection, capability
// discovery, and the payment gateway dispatch endpoint.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kinvo/easyinventory/authsession"
	"github.com/kinvo/easyinventory/gateway"
	"github.com/kinvo/easyinventory/internal/config"
)

type Server struct {
	cfg      *config.Config
	log      zerolog.Logger
	sessions *authsession.Manager
	gateway  *gateway.Router
	mux      *chi.Mux
}

func New(cfg *config.Config, sessions *authsession.Manager, router *gateway.Router, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log,
		sessions: sessions,
		gateway:  router,
		mux:      chi.NewRouter(),
	}
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	s.mux.Use(s.requestLogger)
	s.mux.Use(s.recoverer)

	s.mux.Post("/login", s.LoginHandler())
	s.mux.Get("/auth/callback", s.CallbackHandler())
	s.mux.Post("/logout", s.LogoutHandler())
	s.mux.Get("/session", s.SessionHandler())
	s.mux.Get("/capabilities", s.CapabilitiesHandler())

	s.mux.Post("/gateway/{operation}", s.GatewayHandler())
	s.mux.Get("/gateway/provider", s.ActiveProviderHandler())
	s.mux.Put("/gateway/provider", s.SetProviderHandler())

	s.mux.Get("/healthz", s.HealthHandler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
