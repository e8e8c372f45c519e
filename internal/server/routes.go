package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/workspace/gateway-host/internal/metrics"
)

const (
	uiPath = "/api/gateway/ui"
	wsPath = "/api/gateway/ws"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(metrics.Middleware)
	r.Use(corsHandler(s.config.AllowedOrigins))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/", s.handleRoot)

		r.Route("/auth", func(r chi.Router) {
			r.With(s.loginLimiter.middleware).Post("/session", s.handleCreateSession)
			r.Get("/me", s.handleMe)
			r.Post("/logout", s.handleLogout)
			r.Get("/instance", s.handleInstance)
		})

		r.Route("/gateway", func(r chi.Router) {
			r.Post("/start", s.handleGatewayStart)
			r.Get("/status", s.handleGatewayStatus)
			r.Post("/stop", s.handleGatewayStop)
			r.Get("/token", s.handleGatewayToken)
			r.Get("/whatsapp/status", s.handleWhatsAppStatus)

			r.Get("/ui", s.handleUIRedirect)
			r.Handle("/ui/*", http.HandlerFunc(s.handleUI))
			r.Get("/ws", s.handleWS)
		})
	})

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Gateway Host API"})
}
