package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/scriptoria-app/scriptoria/internal/model"
)

// TokenRepository manages persisted bearer token digests. Rows are retained
// after revocation for audit traceability; only account deletion cascades.
type TokenRepository interface {
	// CreatePair inserts an access and a refresh token row in one transaction.
	CreatePair(ctx context.Context, access, refresh *model.SessionToken) error
	// ResolveAccount returns the owning account for a usable token digest:
	// unrevoked, unexpired, and belonging to an active account.
	ResolveAccount(ctx context.Context, kind model.TokenKind, tokenHash string, now time.Time) (*model.Account, error)
	// Rotate atomically revokes the refresh token with the given digest and
	// inserts a new token pair for its account, filling the pair's AccountID
	// from the matched row. A revoked, expired or unknown digest fails the
	// whole transaction.
	Rotate(ctx context.Context, refreshHash string, now time.Time, newAccess, newRefresh *model.SessionToken) (*model.Account, error)
	// Revoke marks the token revoked if not already; absent digests are a no-op.
	Revoke(ctx context.Context, kind model.TokenKind, tokenHash string, now time.Time) error
	// RevokeAllForAccount revokes every live token of both kinds in one statement.
	RevokeAllForAccount(ctx context.Context, accountID uuid.UUID, now time.Time) error
}
