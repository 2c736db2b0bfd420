// Package token issues and resolves opaque bearer tokens backed by a
// persisted ledger of digests.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/scriptoria-app/scriptoria/internal/crypto"
	"github.com/scriptoria-app/scriptoria/internal/model"
	"github.com/scriptoria-app/scriptoria/internal/repository"
)

const (
	accessSecretLen  = 32
	refreshSecretLen = 40

	minAccessTTL  = time.Minute
	minRefreshTTL = 5 * time.Minute
)

// Ledger mints opaque token secrets and tracks their lifecycle through the
// token repository. Secrets leave the process exactly once, at issuance; only
// SHA-256 digests are stored, so a database leak exposes no usable credential.
type Ledger struct {
	repo       repository.TokenRepository
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewLedger creates a ledger with the given lifetimes. Lifetimes below the
// safety floors (1 minute access, 5 minutes refresh) are raised to the floor.
func NewLedger(repo repository.TokenRepository, accessTTL, refreshTTL time.Duration) *Ledger {
	if accessTTL < minAccessTTL {
		accessTTL = minAccessTTL
	}
	if refreshTTL < minRefreshTTL {
		refreshTTL = minRefreshTTL
	}
	return &Ledger{repo: repo, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// Digest returns the hex-encoded SHA-256 digest of a plaintext secret. It is
// the only form in which tokens are persisted or looked up.
func Digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func newSecret(n int) (string, error) {
	b, err := crypto.RandBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (l *Ledger) mintPair(accountID uuid.UUID, meta model.RequestMeta, now time.Time) (pair *model.TokenPair, access, refresh *model.SessionToken, err error) {
	accessSecret, err := newSecret(accessSecretLen)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("mint access secret: %w", err)
	}
	refreshSecret, err := newSecret(refreshSecretLen)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("mint refresh secret: %w", err)
	}

	access = &model.SessionToken{
		ID:        uuid.Must(uuid.NewV4()),
		AccountID: accountID,
		Kind:      model.TokenAccess,
		TokenHash: Digest(accessSecret),
		ExpiresAt: now.Add(l.accessTTL),
		CreatedIP: meta.IP,
		UserAgent: meta.UserAgent,
	}
	refresh = &model.SessionToken{
		ID:        uuid.Must(uuid.NewV4()),
		AccountID: accountID,
		Kind:      model.TokenRefresh,
		TokenHash: Digest(refreshSecret),
		ExpiresAt: now.Add(l.refreshTTL),
		CreatedIP: meta.IP,
		UserAgent: meta.UserAgent,
	}
	pair = &model.TokenPair{
		AccessToken:      accessSecret,
		RefreshToken:     refreshSecret,
		AccessExpiresIn:  int(l.accessTTL.Seconds()),
		RefreshExpiresIn: int(l.refreshTTL.Seconds()),
	}
	return pair, access, refresh, nil
}

// Issue mints and persists a fresh access+refresh pair for the account.
func (l *Ledger) Issue(ctx context.Context, accountID uuid.UUID, meta model.RequestMeta) (*model.TokenPair, error) {
	pair, access, refresh, err := l.mintPair(accountID, meta, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := l.repo.CreatePair(ctx, access, refresh); err != nil {
		return nil, fmt.Errorf("persist token pair: %w", err)
	}
	return pair, nil
}

// Resolve returns the account that owns a live token of the given kind.
// Revoked, expired and unknown secrets all fail identically with
// errs.ErrUnauthenticated.
func (l *Ledger) Resolve(ctx context.Context, kind model.TokenKind, secret string) (*model.Account, error) {
	return l.repo.ResolveAccount(ctx, kind, Digest(secret), time.Now().UTC())
}

// RotateRefresh exchanges a live refresh secret for a fresh pair. The spent
// secret is revoked in the same transaction that persists its replacement, so
// each refresh secret is usable at most once.
func (l *Ledger) RotateRefresh(ctx context.Context, refreshSecret string, meta model.RequestMeta) (*model.Account, *model.TokenPair, error) {
	now := time.Now().UTC()
	pair, access, refresh, err := l.mintPair(uuid.Nil, meta, now)
	if err != nil {
		return nil, nil, err
	}
	account, err := l.repo.Rotate(ctx, Digest(refreshSecret), now, access, refresh)
	if err != nil {
		return nil, nil, err
	}
	return account, pair, nil
}

// Revoke invalidates a single token. Unknown secrets are a no-op.
func (l *Ledger) Revoke(ctx context.Context, kind model.TokenKind, secret string) error {
	return l.repo.Revoke(ctx, kind, Digest(secret), time.Now().UTC())
}

// RevokeAllForAccount invalidates every live token of the account.
func (l *Ledger) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) error {
	return l.repo.RevokeAllForAccount(ctx, accountID, time.Now().UTC())
}
