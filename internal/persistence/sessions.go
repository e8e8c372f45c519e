package persistence

import (
	"context"
	"fmt"
	"time"
)

// Session is a stored login session. Only a hash of the bearer token is
// kept; the raw token exists solely in the client's cookie.
type Session struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// InsertSession stores a new session.
func (s *Store) InsertSession(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO user_sessions (token_hash, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)",
		sess.TokenHash, sess.UserID, formatTime(sess.ExpiresAt), formatTime(sess.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by token hash. Returns nil, nil if absent.
// Expiry is not checked here.
func (s *Store) GetSession(ctx context.Context, tokenHash string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sess               Session
		expiresAt, created string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT token_hash, user_id, expires_at, created_at FROM user_sessions WHERE token_hash = ?",
		tokenHash,
	).Scan(&sess.TokenHash, &sess.UserID, &expiresAt, &created)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.ExpiresAt, err = ParseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse session expires_at: %w", err)
	}
	if sess.CreatedAt, err = ParseTime(created); err != nil {
		return nil, fmt.Errorf("parse session created_at: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes a session. Deleting an absent session is not an error.
func (s *Store) DeleteSession(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM user_sessions WHERE token_hash = ?", tokenHash); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions whose expiry is before now and
// returns how many were removed.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM user_sessions WHERE expires_at < ?", formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count expired sessions: %w", err)
	}
	return n, nil
}
