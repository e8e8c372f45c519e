package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// User is an authenticated human identity. Email is the lookup key and
// UserID the stable identity key.
type User struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Picture   *string   `json:"picture"`
	CreatedAt time.Time `json:"created_at"`
}

// UpsertUserByEmail creates a user with newUserID when no user has the given
// email, or updates name and picture of the existing one. It returns the
// stored user ID, which differs from newUserID when the user already existed.
func (s *Store) UpsertUserByEmail(ctx context.Context, newUserID, email, name string, picture *string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var userID string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (user_id, email, name, picture, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET name = excluded.name, picture = excluded.picture
		RETURNING user_id`,
		newUserID, email, name, nullableString(picture), formatTime(time.Now()),
	).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("upsert user: %w", err)
	}
	return userID, nil
}

// GetUser retrieves a user by ID. Returns nil, nil if the user does not exist.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT user_id, email, name, picture, created_at FROM users WHERE user_id = ?", userID))
}

// GetUserByEmail retrieves a user by email. Returns nil, nil if absent.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT user_id, email, name, picture, created_at FROM users WHERE email = ?", email))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var (
		u         User
		picture   sql.NullString
		createdAt string
	)
	err := row.Scan(&u.UserID, &u.Email, &u.Name, &picture, &createdAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if picture.Valid {
		p := picture.String
		u.Picture = &p
	}
	if u.CreatedAt, err = ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse user created_at: %w", err)
	}
	return &u, nil
}
