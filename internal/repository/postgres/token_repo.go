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

// TokenRepo is the PostgreSQL implementation of repository.TokenRepository.
type TokenRepo struct {
	db *DB
}

// NewTokenRepo creates a token repository backed by the given pool.
func NewTokenRepo(db *DB) *TokenRepo {
	return &TokenRepo{db: db}
}

const insertTokenSQL = `
	INSERT INTO session_tokens (id, account_id, kind, token_hash, expires_at, created_ip, user_agent)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

func insertToken(ctx context.Context, tx pgx.Tx, t *model.SessionToken) error {
	_, err := tx.Exec(ctx, insertTokenSQL,
		t.ID, t.AccountID, t.Kind, t.TokenHash, t.ExpiresAt, t.CreatedIP, t.UserAgent)
	return err
}

// CreatePair inserts an access and a refresh token row in one transaction.
func (r *TokenRepo) CreatePair(ctx context.Context, access, refresh *model.SessionToken) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = insertToken(ctx, tx, access); err != nil {
		return fmt.Errorf("insert access token: %w", err)
	}
	if err = insertToken(ctx, tx, refresh); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ResolveAccount returns the account owning a usable token digest. The join
// filters revoked and expired tokens and inactive accounts in one query, so an
// unusable digest is indistinguishable from an unknown one.
func (r *TokenRepo) ResolveAccount(ctx context.Context, kind model.TokenKind, tokenHash string, now time.Time) (*model.Account, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT a.id, a.username, a.password_hash, a.role, a.is_active,
			a.failed_attempts, a.locked_until, a.last_login_at, a.created_at, a.updated_at
		FROM session_tokens t
		JOIN accounts a ON a.id = t.account_id
		WHERE t.kind = $1 AND t.token_hash = $2
			AND t.revoked_at IS NULL AND t.expires_at > $3
			AND a.is_active`,
		kind, tokenHash, now,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrUnauthenticated
		}
		return nil, err
	}
	return a, nil
}

// Rotate revokes the refresh token identified by its digest and inserts a new
// token pair for its account, all in one transaction. The row is locked so two
// concurrent rotations of the same token cannot both succeed.
func (r *TokenRepo) Rotate(ctx context.Context, refreshHash string, now time.Time, newAccess, newRefresh *model.SessionToken) (a *model.Account, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var tokenID, accountID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT t.id, t.account_id FROM session_tokens t
		JOIN accounts a ON a.id = t.account_id
		WHERE t.kind = $1 AND t.token_hash = $2
			AND t.revoked_at IS NULL AND t.expires_at > $3
			AND a.is_active
		FOR UPDATE OF t`,
		model.TokenRefresh, refreshHash, now,
	).Scan(&tokenID, &accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrUnauthenticated
		}
		return nil, fmt.Errorf("select refresh token: %w", err)
	}
	newAccess.AccountID = accountID
	newRefresh.AccountID = accountID

	if _, err = tx.Exec(ctx,
		`UPDATE session_tokens SET revoked_at = $2 WHERE id = $1`,
		tokenID, now,
	); err != nil {
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}

	if err = insertToken(ctx, tx, newAccess); err != nil {
		return nil, fmt.Errorf("insert access token: %w", err)
	}
	if err = insertToken(ctx, tx, newRefresh); err != nil {
		return nil, fmt.Errorf("insert refresh token: %w", err)
	}

	row := tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	if a, err = scanAccount(row); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return a, nil
}

// Revoke marks a live token revoked. Unknown or already revoked digests are a
// no-op, which makes logout idempotent.
func (r *TokenRepo) Revoke(ctx context.Context, kind model.TokenKind, tokenHash string, now time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE session_tokens
		SET revoked_at = $3
		WHERE kind = $1 AND token_hash = $2 AND revoked_at IS NULL`,
		kind, tokenHash, now,
	)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RevokeAllForAccount revokes every live token of both kinds for the account.
func (r *TokenRepo) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID, now time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE session_tokens
		SET revoked_at = $2
		WHERE account_id = $1 AND revoked_at IS NULL`,
		accountID, now,
	)
	if err != nil {
		return fmt.Errorf("revoke account tokens: %w", err)
	}
	return nil
}
