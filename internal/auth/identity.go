package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/workspace/gateway-host/internal/retry"
)

var (
	// ErrInvalidSessionID is returned when the provider rejects the session id.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrMissingEmail is returned when the provider answers without an email.
	ErrMissingEmail = errors.New("identity has no email")
)

// Identity is a verified identity returned by the provider.
type Identity struct {
	Email   string  `json:"email"`
	Name    string  `json:"name"`
	Picture *string `json:"picture"`
}

// IdentityClient exchanges an opaque provider session id for an Identity.
type IdentityClient struct {
	url    string
	client *http.Client
	policy retry.Policy
}

// NewIdentityClient creates a client for the provider endpoint at url.
func NewIdentityClient(url string, timeout time.Duration) *IdentityClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &IdentityClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
		policy: retry.DefaultPolicy(),
	}
}

// Exchange calls the provider with the X-Session-ID header. Any non-200
// answer means the id is invalid; transport failures are retried.
func (c *IdentityClient) Exchange(ctx context.Context, sessionID string) (*Identity, error) {
	var ident Identity
	err := retry.Do(ctx, c.policy, "identity exchange", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return retry.Stop(fmt.Errorf("build identity request: %w", err))
		}
		req.Header.Set("X-Session-ID", sessionID)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("identity request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return retry.Stop(ErrInvalidSessionID)
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ident); err != nil {
			return retry.Stop(fmt.Errorf("decode identity: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ident.Email == "" {
		return nil, ErrMissingEmail
	}
	if ident.Name == "" {
		ident.Name = ident.Email
	}
	return &ident, nil
}
