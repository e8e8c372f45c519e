// Package server provides the HTTP surface of the gateway host: login and
// session endpoints, gateway lifecycle endpoints, and the proxied control
// UI and WebSocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/workspace/gateway-host/internal/auth"
	"github.com/workspace/gateway-host/internal/config"
	"github.com/workspace/gateway-host/internal/gateway"
	"github.com/workspace/gateway-host/internal/persistence"
	"github.com/workspace/gateway-host/internal/proxy"
	"github.com/workspace/gateway-host/internal/relay"
	"github.com/workspace/gateway-host/internal/watcher"
)

// Identifier exchanges an identity-provider session id for a verified identity.
type Identifier interface {
	Exchange(ctx context.Context, sessionID string) (*auth.Identity, error)
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Store    *persistence.Store
	Sessions *auth.SessionStore
	Lock     *auth.InstanceLock
	Identity Identifier
	Gateway  *gateway.Manager
	Links    watcher.LinkChecker
}

// Server is the HTTP server for the gateway host.
type Server struct {
	config     *config.Config
	httpServer *http.Server

	store    *persistence.Store
	sessions *auth.SessionStore
	lock     *auth.InstanceLock
	identity Identifier
	gateway  *gateway.Manager
	links    watcher.LinkChecker

	proxy        *proxy.Proxy
	relay        *relay.Relay
	loginLimiter *ipLimiter
}

// New creates a server. The proxy and relay target the gateway port from cfg.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		config:   cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		lock:     deps.Lock,
		identity: deps.Identity,
		gateway:  deps.Gateway,
		links:    deps.Links,
		proxy: proxy.New(proxy.Config{
			Port:    cfg.GatewayPort,
			Timeout: cfg.ProxyTimeout,
			WSPath:  wsPath,
		}),
		relay: relay.New(relay.Config{
			Port:            cfg.GatewayPort,
			AllowedOrigins:  cfg.AllowedOrigins,
			ReadBufferSize:  cfg.WSReadBufferSize,
			WriteBufferSize: cfg.WSWriteBufferSize,
		}, deps.Gateway),
		loginLimiter: newIPLimiter(cfg.LoginRatePerMinute),
	}

	// WriteTimeout stays at the configured value (0 by default) because the
	// relay hijacks long-lived connections and a write deadline would cut them.
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.routes(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.loginLimiter.stop()
	return s.httpServer.Shutdown(ctx)
}
