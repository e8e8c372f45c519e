package persistence

import (
	"context"
	"fmt"
	"time"
)

// InstanceOwner is the single human allowed to use this deployment once set.
type InstanceOwner struct {
	UserID   string    `json:"user_id"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	LockedAt time.Time `json:"locked_at"`
}

// GetInstanceOwner returns the owner, or nil, nil while the instance is unlocked.
func (s *Store) GetInstanceOwner(ctx context.Context) (*InstanceOwner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		o        InstanceOwner
		lockedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, email, name, locked_at FROM instance_owner WHERE id = 1",
	).Scan(&o.UserID, &o.Email, &o.Name, &lockedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get instance owner: %w", err)
	}
	if o.LockedAt, err = ParseTime(lockedAt); err != nil {
		return nil, fmt.Errorf("parse instance owner locked_at: %w", err)
	}
	return &o, nil
}

// SetInstanceOwnerIfAbsent records owner unless an owner already exists.
// The insert is a single statement against a single-row table, so concurrent
// callers cannot both win. It reports whether this call set the owner.
func (s *Store) SetInstanceOwnerIfAbsent(ctx context.Context, owner InstanceOwner) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner.LockedAt.IsZero() {
		owner.LockedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO instance_owner (id, user_id, email, name, locked_at) VALUES (1, ?, ?, ?, ?)",
		owner.UserID, owner.Email, owner.Name, formatTime(owner.LockedAt),
	)
	if err != nil {
		return false, fmt.Errorf("set instance owner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set instance owner: %w", err)
	}
	return n == 1, nil
}

// ClearInstanceOwner removes the owner, unlocking the instance.
func (s *Store) ClearInstanceOwner(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM instance_owner WHERE id = 1"); err != nil {
		return fmt.Errorf("clear instance owner: %w", err)
	}
	return nil
}
