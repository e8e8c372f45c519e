package server

import (
	"context"
	"net/http"
	"time"
)

// handleHealth reports liveness plus a database ping. The gateway state is
// informational and never fails the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "unhealthy",
			"database": "unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"database":        "ok",
		"gateway_running": s.gateway.Status(ctx, "").Running,
	})
}
