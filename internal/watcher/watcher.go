// Package watcher periodically checks the gateway's messaging channel link
// and repairs a known credentials defect by fixing the file and restarting
// the gateway.
package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/workspace/gateway-host/internal/metrics"
)

// LinkStatus is the channel link state read from the credentials file.
type LinkStatus struct {
	Linked     bool   `json:"linked"`
	Registered bool   `json:"registered"`
	Phone      string `json:"phone,omitempty"`
}

// LinkChecker reads and repairs the channel link state.
type LinkChecker interface {
	Status() (LinkStatus, error)
	FixRegistered() error
}

// Restarter restarts the supervised gateway.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Watcher runs the periodic check.
type Watcher struct {
	checker   LinkChecker
	restarter Restarter
	interval  time.Duration
}

// New creates a Watcher. A non-positive interval defaults to 5s.
func New(checker LinkChecker, restarter Restarter, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{checker: checker, restarter: restarter, interval: interval}
}

// Run checks every interval until ctx is cancelled. Failures are logged
// and the loop carries on.
func (w *Watcher) Run(ctx context.Context) {
	slog.Info("Health watcher started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Health watcher stopped")
			return
		case <-ticker.C:
			metrics.WatcherChecksTotal.WithLabelValues(w.Check(ctx)).Inc()
		}
	}
}

// Check runs one iteration and returns its outcome label.
func (w *Watcher) Check(ctx context.Context) string {
	st, err := w.checker.Status()
	if err != nil {
		slog.Warn("Link status check failed", "error", err)
		return "error"
	}
	slog.Debug("Link status", "linked", st.Linked, "registered", st.Registered)
	if !st.Linked || st.Registered {
		return "ok"
	}

	slog.Info("Linked channel is not marked registered, applying fix")
	if err := w.checker.FixRegistered(); err != nil {
		slog.Warn("Could not fix registered flag", "error", err)
		return "error"
	}
	if err := w.restarter.Restart(ctx); err != nil {
		slog.Warn("Gateway restart after fix failed", "error", err)
		return "error"
	}
	slog.Info("Registered flag fixed and gateway restarted")
	return "fixed"
}
