package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/gateway/ui/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/gateway/ui/*", "418"))
	for _, p := range []string{"/api/gateway/ui/a.js", "/api/gateway/ui/b/c.css"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/gateway/ui/*", "418"))
	assert.Equal(t, before+2, after)
}

func TestLifecycleAndGauge(t *testing.T) {
	before := testutil.ToFloat64(GatewayLifecycleTotal.WithLabelValues("start", "error"))
	Lifecycle("start", errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(GatewayLifecycleTotal.WithLabelValues("start", "error")))

	SetGatewayUp(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(GatewayUp))
	SetGatewayUp(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(GatewayUp))
}

func TestHandlerExposesCollectors(t *testing.T) {
	SetGatewayUp(true)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "gateway_host_gateway_up 1"))
}
