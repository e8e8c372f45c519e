package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/workspace/gateway-host/internal/apperror"
	"github.com/workspace/gateway-host/internal/auth"
	"github.com/workspace/gateway-host/internal/gateway"
	"github.com/workspace/gateway-host/internal/gatewaycfg"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps err onto an AppError and writes it. Server-side failures
// are logged with their internal cause; clients only see the safe message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(err)
	if appErr.Code >= http.StatusInternalServerError {
		slog.Error("Request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"type", appErr.Type,
			"error", err,
		)
	}
	apperror.Write(w, appErr)
}

func toAppError(err error) *apperror.AppError {
	var appErr *apperror.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, gatewaycfg.ErrAPIKeyRequired),
		errors.Is(err, gatewaycfg.ErrUnknownProvider),
		errors.Is(err, gatewaycfg.ErrManagedDisabled):
		return apperror.NewValidation(err.Error())
	case errors.Is(err, gateway.ErrAlreadyRunningElsewhere):
		return apperror.NewAlreadyRunningElsewhere()
	case errors.Is(err, gateway.ErrNotOwner):
		return apperror.NewNotOwner("Only the gateway owner can do this")
	case errors.Is(err, gateway.ErrNotRunning):
		return apperror.NewGatewayNotRunning()
	case errors.Is(err, gateway.ErrStartupTimeout),
		errors.Is(err, gateway.ErrSupervisor),
		errors.Is(err, gateway.ErrNotInstalled):
		return apperror.NewStartupFailure(err)
	case errors.Is(err, auth.ErrInvalidSessionID):
		return apperror.NewInvalidSession()
	case errors.Is(err, auth.ErrMissingEmail):
		return apperror.NewValidation("No email in identity response")
	}
	return apperror.NewInternal(err)
}

// decodeJSON decodes an optional JSON body. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperror.NewValidation("invalid request body")
	}
	return nil
}
