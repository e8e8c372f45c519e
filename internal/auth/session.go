// Package auth resolves login sessions, exchanges identity-provider session
// ids for verified identities, and enforces the single-owner instance lock.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/workspace/gateway-host/internal/persistence"
)

// SessionConfig configures the session store and its cookie.
type SessionConfig struct {
	TTL        time.Duration
	CookieName string
	Secure     bool
}

// SessionStore maps opaque bearer tokens to users. Only a SHA-256 hash of
// each token is persisted.
type SessionStore struct {
	store      *persistence.Store
	ttl        time.Duration
	cookieName string
	secure     bool

	now       func() time.Time
	newUserID func() string
}

// NewSessionStore creates a session store over the given persistence store.
func NewSessionStore(store *persistence.Store, cfg SessionConfig) *SessionStore {
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "session_token"
	}
	return &SessionStore{
		store:      store,
		ttl:        cfg.TTL,
		cookieName: cfg.CookieName,
		secure:     cfg.Secure,
		now:        time.Now,
		newUserID:  newUserID,
	}
}

// Resolve returns the user a token belongs to. Missing, unknown and expired
// tokens all yield nil without an error.
func (s *SessionStore) Resolve(ctx context.Context, token string) (*persistence.User, error) {
	if token == "" {
		return nil, nil
	}
	sess, err := s.store.GetSession(ctx, hashToken(token))
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if sess == nil {
		return nil, nil
	}
	if sess.ExpiresAt.Before(s.now().UTC()) {
		return nil, nil
	}
	user, err := s.store.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve session user: %w", err)
	}
	return user, nil
}

// Create records the user for email, refreshing name and picture when the
// user already exists, and always issues a brand-new session token.
func (s *SessionStore) Create(ctx context.Context, email, name string, picture *string) (string, string, error) {
	userID, err := s.store.UpsertUserByEmail(ctx, s.newUserID(), email, name, picture)
	if err != nil {
		return "", "", fmt.Errorf("create session: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return "", "", fmt.Errorf("create session token: %w", err)
	}

	now := s.now()
	err = s.store.InsertSession(ctx, persistence.Session{
		TokenHash: hashToken(token),
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	})
	if err != nil {
		return "", "", fmt.Errorf("create session: %w", err)
	}
	return userID, token, nil
}

// Revoke deletes the session for token. Revoking an unknown token is a no-op.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.store.DeleteSession(ctx, hashToken(token))
}

// TokenFromRequest reads the session token from the cookie, falling back to
// an "Authorization: Bearer" header.
func (s *SessionStore) TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(s.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// SetCookie sets the session cookie on the response.
func (s *SessionStore) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, s.cookie(token, int(s.ttl/time.Second)))
}

// ClearCookie expires the session cookie.
func (s *SessionStore) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, s.cookie("", -1))
}

func (s *SessionStore) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     s.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteNoneMode,
	}
	// Browsers drop SameSite=None cookies that are not Secure.
	if !s.secure {
		c.SameSite = http.SameSiteLaxMode
	}
	return c
}

// RunCleanup purges expired sessions every interval until ctx is done.
func (s *SessionStore) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.DeleteExpiredSessions(ctx, s.now())
			if err != nil {
				slog.Warn("Session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Purged expired sessions", "count", n)
			}
		}
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// generateToken returns 32 random bytes, hex encoded.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func newUserID() string {
	return "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
