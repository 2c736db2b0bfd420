// Package service contains application services for accounts, sessions and
// story documents.
package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/scriptoria-app/scriptoria/internal/audit"
	"github.com/scriptoria-app/scriptoria/internal/crypto"
	"github.com/scriptoria-app/scriptoria/internal/errs"
	"github.com/scriptoria-app/scriptoria/internal/model"
	"github.com/scriptoria-app/scriptoria/internal/repository"
	"github.com/scriptoria-app/scriptoria/internal/token"
)

const minPasswordLen = 8

var usernameRe = regexp.MustCompile(`^[a-z0-9._-]{3,32}$`)

// GuardPolicy fixes the lockout window. A second lockout after release
// restarts the same window; there is no per-account back-off growth.
type GuardPolicy struct {
	MaxAttempts int
	LockFor     time.Duration
}

const (
	minAttempts = 3
	minLockFor  = time.Minute
)

// Normalize raises values below the safety floors (3 attempts, 1 minute lock).
func (p GuardPolicy) Normalize() GuardPolicy {
	if p.MaxAttempts < minAttempts {
		p.MaxAttempts = minAttempts
	}
	if p.LockFor < minLockFor {
		p.LockFor = minLockFor
	}
	return p
}

// AuthService defines account and session operations.
type AuthService interface {
	// Register creates an account and issues its first token pair.
	Register(ctx context.Context, username, password string, role model.Role, meta model.RequestMeta) (*model.Account, *model.TokenPair, error)
	// Login verifies credentials under the lockout guard and issues tokens.
	Login(ctx context.Context, username, password string, meta model.RequestMeta) (*model.Account, *model.TokenPair, error)
	// Refresh exchanges a live refresh secret for a fresh pair.
	Refresh(ctx context.Context, refreshSecret string, meta model.RequestMeta) (*model.Account, *model.TokenPair, error)
	// Logout revokes the presented session's tokens.
	Logout(ctx context.Context, account *model.Account, accessSecret, refreshSecret string, meta model.RequestMeta) error
	// ChangePassword verifies the current password, stores a new hash and
	// revokes every live token of the account.
	ChangePassword(ctx context.Context, account *model.Account, current, next string, meta model.RequestMeta) error
}

type AuthServiceImpl struct {
	users  repository.UserRepository
	ledger *token.Ledger
	sink   *audit.Sink
	guard  GuardPolicy
	now    func() time.Time
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, ledger *token.Ledger, sink *audit.Sink, guard GuardPolicy) *AuthServiceImpl {
	return &AuthServiceImpl{
		users:  users,
		ledger: ledger,
		sink:   sink,
		guard:  guard.Normalize(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *AuthServiceImpl) record(ctx context.Context, accountID *uuid.UUID, action string, outcome model.AuditOutcome, detail map[string]any, meta model.RequestMeta) {
	s.sink.Record(ctx, &model.AuditEntry{
		AccountID: accountID,
		Action:    action,
		Resource:  "account",
		Outcome:   outcome,
		Detail:    detail,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
}

// Register creates an account with a freshly hashed password and issues its
// first session. The handle is lowercased before validation, so lookups are
// case-insensitive by construction.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string, role model.Role, meta model.RequestMeta) (*model.Account, *model.TokenPair, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if !usernameRe.MatchString(username) {
		return nil, nil, fmt.Errorf("%w: username must match [a-z0-9._-]{3,32}", errs.ErrInvalidInput)
	}
	if len(password) < minPasswordLen {
		return nil, nil, fmt.Errorf("%w: password must be at least %d characters", errs.ErrInvalidInput, minPasswordLen)
	}
	if role == "" {
		role = model.RoleAuthor
	}
	if !role.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown role %q", errs.ErrInvalidInput, role)
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}
	a := &model.Account{
		ID:           uuid.Must(uuid.NewV4()),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, a); err != nil {
		return nil, nil, err
	}

	pair, err := s.ledger.Issue(ctx, a.ID, meta)
	if err != nil {
		return nil, nil, err
	}
	s.record(ctx, &a.ID, "register", model.AuditSuccess, map[string]any{"username": username, "role": string(role)}, meta)
	return a, pair, nil
}

// Login runs the lockout guard state machine. While a lock is live the
// password is never verified, so hammering a locked account wastes no hashing
// work and moves no counters.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password string, meta model.RequestMeta) (*model.Account, *model.TokenPair, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	now := s.now()

	a, err := s.users.GetByUsername(ctx, username)
	if err != nil || !a.IsActive {
		s.record(ctx, nil, "login", model.AuditFailed, map[string]any{"username": username, "reason": "unknown_or_inactive"}, meta)
		return nil, nil, errs.ErrUnauthenticated
	}

	if a.LockedUntil != nil && now.Before(*a.LockedUntil) {
		remaining := a.LockedUntil.Sub(now)
		s.record(ctx, &a.ID, "login", model.AuditFailed, map[string]any{"reason": "locked", "retry_after_s": int(remaining.Seconds())}, meta)
		return nil, nil, &errs.LockedError{RetryAfter: remaining}
	}

	if !crypto.VerifyPassword(password, a.PasswordHash) {
		attempts := a.FailedAttempts + 1
		if attempts >= s.guard.MaxAttempts {
			until := now.Add(s.guard.LockFor)
			// The counter restarts at zero so the next cycle begins from the
			// same fixed threshold.
			if err := s.users.RecordLoginFailure(ctx, a.ID, 0, &until); err != nil {
				return nil, nil, err
			}
			s.record(ctx, &a.ID, "login", model.AuditFailed, map[string]any{"reason": "lockout", "attempts": attempts}, meta)
			return nil, nil, &errs.LockedError{RetryAfter: s.guard.LockFor}
		}
		if err := s.users.RecordLoginFailure(ctx, a.ID, attempts, nil); err != nil {
			return nil, nil, err
		}
		s.record(ctx, &a.ID, "login", model.AuditFailed, map[string]any{"reason": "bad_password", "attempts": attempts}, meta)
		return nil, nil, errs.ErrUnauthenticated
	}

	if err := s.users.RecordLoginSuccess(ctx, a.ID, now); err != nil {
		return nil, nil, err
	}
	pair, err := s.ledger.Issue(ctx, a.ID, meta)
	if err != nil {
		return nil, nil, err
	}
	s.record(ctx, &a.ID, "login", model.AuditSuccess, nil, meta)
	return a, pair, nil
}

// Refresh exchanges a live refresh secret for a fresh pair. A spent secret is
// an authentication failure, not a retryable error: refresh reuse is a
// compromise signal.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshSecret string, meta model.RequestMeta) (*model.Account, *model.TokenPair, error) {
	a, pair, err := s.ledger.RotateRefresh(ctx, refreshSecret, meta)
	if err != nil {
		s.record(ctx, nil, "token_refresh", model.AuditFailed, map[string]any{"reason": "unusable_refresh"}, meta)
		return nil, nil, err
	}
	s.record(ctx, &a.ID, "token_refresh", model.AuditSuccess, nil, meta)
	return a, pair, nil
}

// Logout revokes the presented tokens. Already revoked or unknown secrets are
// a no-op, so repeating a logout is harmless.
func (s *AuthServiceImpl) Logout(ctx context.Context, account *model.Account, accessSecret, refreshSecret string, meta model.RequestMeta) error {
	if err := s.ledger.Revoke(ctx, model.TokenAccess, accessSecret); err != nil {
		return err
	}
	if refreshSecret != "" {
		if err := s.ledger.Revoke(ctx, model.TokenRefresh, refreshSecret); err != nil {
			return err
		}
	}
	s.record(ctx, &account.ID, "logout", model.AuditSuccess, nil, meta)
	return nil
}

// ChangePassword verifies the current password and swaps in a new hash. Every
// live token of the account dies with the old password, in the same
// transaction that stores the new hash.
func (s *AuthServiceImpl) ChangePassword(ctx context.Context, account *model.Account, current, next string, meta model.RequestMeta) error {
	if len(next) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", errs.ErrInvalidInput, minPasswordLen)
	}
	if !crypto.VerifyPassword(current, account.PasswordHash) {
		s.record(ctx, &account.ID, "change_password", model.AuditFailed, map[string]any{"reason": "bad_current_password"}, meta)
		return errs.ErrUnauthenticated
	}
	hash, err := crypto.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.ChangePassword(ctx, account.ID, hash, s.now()); err != nil {
		return err
	}
	s.record(ctx, &account.ID, "change_password", model.AuditSuccess, nil, meta)
	return nil
}
