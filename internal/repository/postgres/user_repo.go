package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/scriptoria-app/scriptoria/internal/errs"
	"github.com/scriptoria-app/scriptoria/internal/model"
)

const accountColumns = `id, username, password_hash, role, is_active,
	failed_attempts, locked_until, last_login_at, created_at, updated_at`

// UserRepo is the PostgreSQL implementation of repository.UserRepository.
type UserRepo struct {
	db *DB
}

// NewUserRepo creates a user repository backed by the given pool.
func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID, &a.Username, &a.PasswordHash, &a.Role, &a.IsActive,
		&a.FailedAttempts, &a.LockedUntil, &a.LastLoginAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

// Create inserts a new account. Returns errs.ErrAlreadyExists when the
// username is already taken.
func (r *UserRepo) Create(ctx context.Context, a *model.Account) error {
	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO accounts (id, username, password_hash, role, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		a.ID, a.Username, a.PasswordHash, a.Role, a.IsActive,
	)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByID returns the account with the given id or errs.ErrNotFound.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetByUsername returns the account with the given username or errs.ErrNotFound.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username)
	return scanAccount(row)
}

// RecordLoginFailure stores the updated failure counter and, when the
// threshold was reached, the lock expiry.
func (r *UserRepo) RecordLoginFailure(ctx context.Context, id uuid.UUID, attempts int, lockedUntil *time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE accounts
		SET failed_attempts = $2, locked_until = $3, updated_at = now()
		WHERE id = $1`,
		id, attempts, lockedUntil,
	)
	if err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// RecordLoginSuccess clears the failure counter and lock and stamps the last
// successful login time.
func (r *UserRepo) RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE accounts
		SET failed_attempts = 0, locked_until = NULL, last_login_at = $2, updated_at = now()
		WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ChangePassword replaces the stored password hash and revokes every live
// session token of the account inside a single transaction, so no token
// minted against the old password survives the change.
func (r *UserRepo) ChangePassword(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET password_hash = $2, updated_at = now()
		WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		UPDATE session_tokens
		SET revoked_at = $2
		WHERE account_id = $1 AND revoked_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
