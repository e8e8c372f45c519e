package persistence

import (
	"context"
	"fmt"
	"time"
)

// GatewayConfig is the durable desired state of the supervised gateway. It
// survives restarts of this process so the gateway can be resurrected with
// the same token, provider and owner.
type GatewayConfig struct {
	ShouldRun   bool
	OwnerUserID string
	Provider    string
	Token       string
	StartedAt   time.Time
	UpdatedAt   time.Time
}

// GetGatewayConfig returns the stored gateway config, or nil, nil if none
// has been written yet.
func (s *Store) GetGatewayConfig(ctx context.Context) (*GatewayConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c                    GatewayConfig
		shouldRun            int
		startedAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT should_run, owner_user_id, provider, token, started_at, updated_at FROM gateway_config WHERE id = 1",
	).Scan(&shouldRun, &c.OwnerUserID, &c.Provider, &c.Token, &startedAt, &updatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get gateway config: %w", err)
	}
	c.ShouldRun = shouldRun != 0
	if startedAt != "" {
		if c.StartedAt, err = ParseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse gateway started_at: %w", err)
		}
	}
	if c.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse gateway updated_at: %w", err)
	}
	return &c, nil
}

// UpsertGatewayConfig writes the full gateway config.
func (s *Store) UpsertGatewayConfig(ctx context.Context, c GatewayConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	startedAt := ""
	if !c.StartedAt.IsZero() {
		startedAt = formatTime(c.StartedAt)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO gateway_config
			(id, should_run, owner_user_id, provider, token, started_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)`,
		boolToInt(c.ShouldRun), c.OwnerUserID, c.Provider, c.Token, startedAt, formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert gateway config: %w", err)
	}
	return nil
}

// SetGatewayShouldRun updates only the should_run flag, creating the row when
// it does not exist yet.
func (s *Store) SetGatewayShouldRun(ctx context.Context, shouldRun bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gateway_config (id, should_run, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET should_run = excluded.should_run, updated_at = excluded.updated_at`,
		boolToInt(shouldRun), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("set gateway should_run: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
