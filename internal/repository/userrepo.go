// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/scriptoria-app/scriptoria/internal/model"
)

// UserRepository provides access to workspace accounts.
type UserRepository interface {
	// Create inserts a new account.
	Create(ctx context.Context, a *model.Account) error
	// GetByID loads an account by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetByUsername loads an account by its case-normalized handle.
	GetByUsername(ctx context.Context, username string) (*model.Account, error)
	// RecordLoginFailure stores the failed-attempt counter and optional lock expiry.
	RecordLoginFailure(ctx context.Context, id uuid.UUID, attempts int, lockedUntil *time.Time) error
	// RecordLoginSuccess resets the counter, clears the lock and stamps last login.
	RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
	// ChangePassword stores a new password hash and revokes every live session
	// token of the account in the same transaction, so no stale session can
	// survive a credential rotation.
	ChangePassword(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) error
}
