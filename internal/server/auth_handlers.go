package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/workspace/gateway-host/internal/apperror"
	"github.com/workspace/gateway-host/internal/auth"
	"github.com/workspace/gateway-host/internal/metrics"
	"github.com/workspace/gateway-host/internal/persistence"
)

// currentUser resolves the session on r. A nil user means anonymous.
func (s *Server) currentUser(r *http.Request) (*persistence.User, error) {
	return s.sessions.Resolve(r.Context(), s.sessions.TokenFromRequest(r))
}

// requireUser writes a 401 and returns nil when r is not authenticated.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) *persistence.User {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return nil
	}
	if user == nil {
		writeError(w, r, apperror.NewAuthenticationRequired())
		return nil
	}
	return user
}

// requireAccess is requireUser plus the instance lock: a session issued
// before the instance was locked does not reach a locked instance.
func (s *Server) requireAccess(w http.ResponseWriter, r *http.Request) *persistence.User {
	user := s.requireUser(w, r)
	if user == nil {
		return nil
	}
	allowed, ownerEmail, err := s.lock.IsAllowed(r.Context(), user.UserID)
	if err != nil {
		writeError(w, r, err)
		return nil
	}
	if !allowed {
		slog.Warn("Blocked request for locked instance", "user_id", user.UserID, "path", r.URL.Path)
		writeError(w, r, apperror.NewInstanceLocked(ownerEmail))
		return nil
	}
	return user
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.SessionID == "" {
		writeError(w, r, apperror.NewValidation("session_id is required"))
		return
	}

	ident, err := s.identity.Exchange(r.Context(), body.SessionID)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("rejected").Inc()
		if errors.Is(err, auth.ErrInvalidSessionID) || errors.Is(err, auth.ErrMissingEmail) || errors.Is(err, context.Canceled) {
			writeError(w, r, err)
			return
		}
		writeError(w, r, apperror.NewUpstreamUnavailable("Identity provider unavailable", err))
		return
	}

	allowed, ownerEmail, err := s.lock.AllowsEmail(r.Context(), ident.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !allowed {
		metrics.LoginAttemptsTotal.WithLabelValues("locked").Inc()
		slog.Warn("Blocked login for locked instance", "email", ident.Email)
		writeError(w, r, apperror.NewInstanceLocked(ownerEmail))
		return
	}

	userID, token, err := s.sessions.Create(r.Context(), ident.Email, ident.Name, ident.Picture)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.sessions.SetCookie(w, token)
	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	slog.Info("Session created", "user_id", userID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"user": user,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := s.requireAccess(w, r)
	if user == nil {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Revoke(r.Context(), s.sessions.TokenFromRequest(r)); err != nil {
		writeError(w, r, err)
		return
	}
	s.sessions.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": "Logged out",
	})
}

// handleInstance is public and discloses only whether the instance is locked.
func (s *Server) handleInstance(w http.ResponseWriter, r *http.Request) {
	owner, err := s.lock.Owner(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"locked": owner != nil})
}
