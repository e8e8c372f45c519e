// Package relay bridges a browser WebSocket to the gateway's local
// WebSocket endpoint, copying frames verbatim in both directions.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/workspace/gateway-host/internal/gateway"
	"github.com/workspace/gateway-host/internal/metrics"
)

// Close codes sent to clients and the gateway.
const (
	CloseTryAgainLater = websocket.CloseTryAgainLater     // 1013
	ClosePolicy        = websocket.ClosePolicyViolation   // 1008
	CloseProxyEnded    = websocket.CloseInternalServerErr // 1011
)

// TokenSource answers whether the gateway is running and userID owns it.
// It returns gateway.ErrNotRunning or gateway.ErrNotOwner otherwise.
type TokenSource interface {
	Token(ctx context.Context, userID string) (string, error)
}

// Config configures a Relay.
type Config struct {
	Port            int
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
	// PingInterval and PongTimeout drive keepalive toward the gateway.
	PingInterval time.Duration
	PongTimeout  time.Duration
	// CloseTimeout bounds close handshakes and control writes.
	CloseTimeout time.Duration
	DialTimeout  time.Duration
}

// Relay upgrades inbound connections and pipes them to the gateway.
type Relay struct {
	cfg      Config
	tokens   TokenSource
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
}

var (
	errClientGone  = errors.New("client side ended")
	errGatewayGone = errors.New("gateway side ended")
)

// New creates a Relay.
func New(cfg Config, tokens TokenSource) *Relay {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 20 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 10 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	origins := originChecker{allowed: cfg.AllowedOrigins}
	return &Relay{
		cfg:    cfg,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     origins.check,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
		},
	}
}

// Serve accepts the client connection and relays it until either side
// ends. Running and ownership are checked only after the upgrade so the
// client receives a proper close code.
func (rl *Relay) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	client, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer client.Close()

	ctx := r.Context()

	token, err := rl.tokens.Token(ctx, userID)
	switch {
	case errors.Is(err, gateway.ErrNotRunning):
		rl.closeWith(client, CloseTryAgainLater, "gateway not running")
		return
	case userID == "" || errors.Is(err, gateway.ErrNotOwner):
		rl.closeWith(client, ClosePolicy, "not the gateway owner")
		return
	case err != nil:
		slog.Error("Relay could not resolve gateway token", "error", err)
		rl.closeWith(client, CloseProxyEnded, "proxy ended")
		return
	}

	header := http.Header{}
	if token != "" {
		header.Set("X-Auth-Token", token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, rl.cfg.DialTimeout)
	upstream, _, err := rl.dialer.DialContext(dialCtx, rl.upstreamURL(), header)
	cancel()
	if err != nil {
		slog.Error("Relay could not reach gateway", "error", err)
		rl.closeWith(client, CloseProxyEnded, "proxy ended")
		return
	}
	defer upstream.Close()

	metrics.RelayActive.Inc()
	defer metrics.RelayActive.Dec()
	slog.Info("WebSocket relay opened", "user_id", userID)

	err = rl.pipe(ctx, client, upstream)

	// Close whichever side is still open.
	switch {
	case errors.Is(err, errClientGone):
		rl.closeWith(upstream, CloseProxyEnded, "proxy ended")
	case errors.Is(err, errGatewayGone):
		rl.closeWith(client, CloseProxyEnded, "proxy ended")
	default:
		rl.closeWith(client, CloseProxyEnded, "proxy ended")
		rl.closeWith(upstream, CloseProxyEnded, "proxy ended")
	}
	slog.Info("WebSocket relay closed", "user_id", userID, "reason", err)
}

func (rl *Relay) upstreamURL() string {
	return fmt.Sprintf("ws://127.0.0.1:%d/", rl.cfg.Port)
}

// pipe runs both copy loops and the gateway keepalive. The first loop to
// end cancels the group; its error says which side went away.
func (rl *Relay) pipe(ctx context.Context, client, upstream *websocket.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	upstream.SetPongHandler(func(string) error {
		if gctx.Err() != nil {
			return nil
		}
		return upstream.SetReadDeadline(time.Now().Add(rl.cfg.PingInterval + rl.cfg.PongTimeout))
	})
	_ = upstream.SetReadDeadline(time.Now().Add(rl.cfg.PingInterval + rl.cfg.PongTimeout))

	g.Go(func() error {
		return copyFrames(client, upstream, "client_to_gateway", errClientGone, errGatewayGone)
	})
	g.Go(func() error {
		return copyFrames(upstream, client, "gateway_to_client", errGatewayGone, errClientGone)
	})

	g.Go(func() error {
		ticker := time.NewTicker(rl.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				deadline := time.Now().Add(rl.cfg.CloseTimeout)
				if err := upstream.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return errGatewayGone
				}
			}
		}
	})

	// Blocked reads do not observe ctx; expire them once the group ends.
	g.Go(func() error {
		<-gctx.Done()
		now := time.Now()
		_ = client.SetReadDeadline(now)
		_ = upstream.SetReadDeadline(now)
		return nil
	})

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// copyFrames forwards frames from src to dst preserving type and order.
// A read failure reports srcGone, a write failure dstGone.
func copyFrames(src, dst *websocket.Conn, direction string, srcGone, dstGone error) error {
	frames := metrics.RelayFramesTotal.WithLabelValues(direction)
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.Debug("Relay read ended", "direction", direction, "error", err)
			}
			return srcGone
		}
		if err := dst.WriteMessage(mt, data); err != nil {
			slog.Debug("Relay write failed", "direction", direction, "error", err)
			return dstGone
		}
		frames.Inc()
	}
}

func (rl *Relay) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(rl.cfg.CloseTimeout))
}
