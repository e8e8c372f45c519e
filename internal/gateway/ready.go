package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// healthURL is the gateway's local health endpoint.
func (m *Manager) healthURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/", m.cfg.Port)
}

// probe performs one health check with a short per-request timeout.
func (m *Manager) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL(), nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// waitReady polls the health endpoint every PollInterval until it answers
// 200 or ReadyTimeout elapses.
func (m *Manager) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(m.cfg.ReadyTimeout)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if m.probe(ctx) {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrStartupTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
