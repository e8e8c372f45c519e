// Package metrics holds the Prometheus collectors for the gateway host.
// Collectors are registered in the default registry at init and served by
// Handler on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts requests by method, route pattern and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_host_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_host_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// LoginAttemptsTotal counts identity exchanges by result.
	LoginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_host_login_attempts_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)

	// GatewayLifecycleTotal counts lifecycle operations by action and result.
	GatewayLifecycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_host_gateway_lifecycle_total",
			Help: "Gateway lifecycle operations by action and result",
		},
		[]string{"action", "result"},
	)

	GatewayStartupSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_host_gateway_startup_seconds",
			Help:    "Time from supervisor start until the gateway answered its health check",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	// GatewayUp is 1 while the gateway is known to be running.
	GatewayUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_host_gateway_up",
			Help: "Whether the supervised gateway is running",
		},
	)

	ProxyUpstreamErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_host_proxy_upstream_errors_total",
			Help: "Proxied requests that failed to reach the gateway",
		},
	)

	ProxyInjectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_host_proxy_html_injections_total",
			Help: "HTML responses rewritten with the WebSocket override script",
		},
	)

	RelayActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_host_relay_active_connections",
			Help: "Open WebSocket relays",
		},
	)

	// RelayFramesTotal counts relayed frames by direction.
	RelayFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_host_relay_frames_total",
			Help: "WebSocket frames relayed by direction",
		},
		[]string{"direction"},
	)

	// WatcherChecksTotal counts health watcher iterations by outcome.
	WatcherChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_host_watcher_checks_total",
			Help: "Health watcher iterations by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LoginAttemptsTotal,
		GatewayLifecycleTotal,
		GatewayStartupSeconds,
		GatewayUp,
		ProxyUpstreamErrorsTotal,
		ProxyInjectionsTotal,
		RelayActive,
		RelayFramesTotal,
		WatcherChecksTotal,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency. The route label is the chi
// route pattern, so proxied paths do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Lifecycle records a lifecycle outcome.
func Lifecycle(action string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	GatewayLifecycleTotal.WithLabelValues(action, result).Inc()
}

// SetGatewayUp sets the running gauge.
func SetGatewayUp(up bool) {
	if up {
		GatewayUp.Set(1)
		return
	}
	GatewayUp.Set(0)
}
