package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/workspace/gateway-host/internal/gateway"
	"github.com/workspace/gateway-host/internal/gatewaycfg"
	"github.com/workspace/gateway-host/internal/proxy"
)

func (s *Server) handleGatewayStart(w http.ResponseWriter, r *http.Request) {
	user := s.requireAccess(w, r)
	if user == nil {
		return
	}

	var body struct {
		Provider string `json:"provider"`
		APIKey   string `json:"apiKey"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	provider, err := gatewaycfg.ParseProvider(body.Provider)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := s.gateway.Start(r.Context(), gateway.StartRequest{
		APIKey:      body.APIKey,
		Provider:    provider,
		OwnerUserID: user.UserID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The first successful start locks the instance to this user.
	locked, err := s.lock.SetOwnerIfAbsent(r.Context(), user)
	if err != nil {
		slog.Error("Could not record instance owner", "user_id", user.UserID, "error", err)
	} else if locked {
		slog.Info("Instance locked", "user_id", user.UserID)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"controlUrl": gateway.ControlPath,
		"token":      token,
		"message":    "Gateway started with " + string(provider) + " provider",
	})
}

func (s *Server) handleGatewayStatus(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID := ""
	if user != nil {
		userID = user.UserID
	}
	writeJSON(w, http.StatusOK, s.gateway.Status(r.Context(), userID))
}

func (s *Server) handleGatewayStop(w http.ResponseWriter, r *http.Request) {
	user := s.requireAccess(w, r)
	if user == nil {
		return
	}
	wasRunning, err := s.gateway.Stop(r.Context(), user.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	message := "Gateway stopped"
	if !wasRunning {
		message = "Gateway is not running"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": message,
	})
}

func (s *Server) handleGatewayToken(w http.ResponseWriter, r *http.Request) {
	user := s.requireAccess(w, r)
	if user == nil {
		return
	}
	token, err := s.gateway.Token(r.Context(), user.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleWhatsAppStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.links.Status()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUIRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, uiPath+"/", http.StatusTemporaryRedirect)
}

// handleUI proxies the control UI to its owner. Anyone else gets a fixed
// HTML page rather than JSON since this is browsed to directly.
func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID := ""
	if user != nil {
		userID = user.UserID
	}

	token, err := s.gateway.Token(r.Context(), userID)
	switch {
	case errors.Is(err, gateway.ErrNotRunning):
		proxy.WriteNotRunning(w)
		return
	case user == nil || errors.Is(err, gateway.ErrNotOwner):
		proxy.WriteAccessDenied(w)
		return
	case err != nil:
		writeError(w, r, err)
		return
	}

	ctx := proxy.WithToken(r.Context(), token)
	http.StripPrefix(uiPath, s.proxy).ServeHTTP(w, r.WithContext(ctx))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		slog.Warn("Session lookup failed for WebSocket", "error", err)
	}
	userID := ""
	if user != nil {
		userID = user.UserID
	}
	s.relay.Serve(w, r, userID)
}
