package auth

import (
	"context"
	"fmt"

	"github.com/workspace/gateway-host/internal/persistence"
)

// InstanceLock pins the deployment to the first user who starts the gateway.
type InstanceLock struct {
	store *persistence.Store
}

// NewInstanceLock creates an instance lock over the given store.
func NewInstanceLock(store *persistence.Store) *InstanceLock {
	return &InstanceLock{store: store}
}

// Owner returns the current owner, or nil while the instance is unlocked.
func (l *InstanceLock) Owner(ctx context.Context) (*persistence.InstanceOwner, error) {
	return l.store.GetInstanceOwner(ctx)
}

// SetOwnerIfAbsent makes user the owner unless one is already set. Losing
// the race is not an error; the return reports whether user became owner.
func (l *InstanceLock) SetOwnerIfAbsent(ctx context.Context, user *persistence.User) (bool, error) {
	set, err := l.store.SetInstanceOwnerIfAbsent(ctx, persistence.InstanceOwner{
		UserID: user.UserID,
		Email:  user.Email,
		Name:   user.Name,
	})
	if err != nil {
		return false, fmt.Errorf("lock instance: %w", err)
	}
	return set, nil
}

// IsAllowed reports whether userID may control the instance. On denial the
// owner's email is returned and nothing else about the owner.
func (l *InstanceLock) IsAllowed(ctx context.Context, userID string) (bool, string, error) {
	owner, err := l.store.GetInstanceOwner(ctx)
	if err != nil {
		return false, "", fmt.Errorf("check instance lock: %w", err)
	}
	if owner == nil || owner.UserID == userID {
		return true, "", nil
	}
	return false, owner.Email, nil
}

// AllowsEmail reports whether a login for email may proceed, returning the
// owner's email on denial.
func (l *InstanceLock) AllowsEmail(ctx context.Context, email string) (bool, string, error) {
	owner, err := l.store.GetInstanceOwner(ctx)
	if err != nil {
		return false, "", fmt.Errorf("check instance lock: %w", err)
	}
	if owner == nil || owner.Email == email {
		return true, "", nil
	}
	return false, owner.Email, nil
}

// Clear removes the owner. This is the only way to unlock an instance.
func (l *InstanceLock) Clear(ctx context.Context) error {
	return l.store.ClearInstanceOwner(ctx)
}
