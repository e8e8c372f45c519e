// Package proxy forwards control UI traffic to the local gateway and
// rewrites HTML responses so the page's WebSockets come back through us.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/workspace/gateway-host/internal/apperror"
	"github.com/workspace/gateway-host/internal/metrics"
)

// Config configures a Proxy.
type Config struct {
	// Port is the gateway's local HTTP port.
	Port int
	// Timeout bounds one proxied request. Defaults to 30s.
	Timeout time.Duration
	// WSPath is the relay endpoint the injected script points pages at.
	WSPath string
}

// Proxy is an http.Handler that forwards every method, path and query to
// http://127.0.0.1:<port>. Callers strip their own route prefix and
// enforce running/owner preconditions before handing requests over.
type Proxy struct {
	cfg     Config
	reverse *httputil.ReverseProxy
}

type tokenKey struct{}

// WithToken attaches the gateway token to be exposed to injected pages.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey{}).(string)
	return t
}

// New creates a Proxy.
func New(cfg Config) *Proxy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.WSPath == "" {
		cfg.WSPath = "/api/gateway/ws"
	}
	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", cfg.Port)}

	p := &Proxy{cfg: cfg}
	p.reverse = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Header.Del("Host")
			pr.Out.Header.Del("Content-Length")
			// Bodies may be rewritten, so ask for them uncompressed.
			pr.Out.Header.Del("Accept-Encoding")
		},
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
	}
	return p
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), p.cfg.Timeout)
	defer cancel()
	p.reverse.ServeHTTP(w, r.WithContext(ctx))
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	for _, h := range []string{"Content-Encoding", "Content-Length", "Transfer-Encoding", "Connection"} {
		resp.Header.Del(h)
	}

	if !isHTML(resp.Header.Get("Content-Type")) {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read upstream html: %w", err)
	}

	script := overrideScript(tokenFrom(resp.Request.Context()), p.cfg.Port, p.cfg.WSPath)
	out := Inject(strings.ToValidUTF8(string(raw), "\uFFFD"), script)

	resp.Body = io.NopCloser(bytes.NewReader([]byte(out)))
	resp.ContentLength = int64(len(out))
	metrics.ProxyInjectionsTotal.Inc()
	return nil
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	metrics.ProxyUpstreamErrorsTotal.Inc()
	slog.Error("Gateway proxy request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	apperror.Write(w, apperror.NewUpstreamUnavailable("Failed to connect to gateway", err))
}

func isHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}
