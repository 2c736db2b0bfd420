package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/scriptoria-app/scriptoria/internal/errs"
	"github.com/scriptoria-app/scriptoria/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func accountRow(a *model.Account) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "username", "password_hash", "role", "is_active",
		"failed_attempts", "locked_until", "last_login_at", "created_at", "updated_at",
	}).AddRow(
		a.ID, a.Username, a.PasswordHash, a.Role, a.IsActive,
		a.FailedAttempts, a.LockedUntil, a.LastLoginAt, a.CreatedAt, a.UpdatedAt,
	)
}

func TestUserRepo_Create_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	ctx := context.Background()
	now := time.Now().UTC()
	a := &model.Account{
		ID:           uuid.Must(uuid.NewV4()),
		Username:     "astrid",
		PasswordHash: "argon2id$salt$digest",
		Role:         model.RoleAuthor,
		IsActive:     true,
	}

	mock.ExpectQuery(`INSERT INTO accounts`).
		WithArgs(a.ID, a.Username, a.PasswordHash, a.Role, a.IsActive).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, r.Create(ctx, a))
	require.Equal(t, now, a.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create_DuplicateUsername(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	a := &model.Account{ID: uuid.Must(uuid.NewV4()), Username: "astrid", Role: model.RoleAuthor, IsActive: true}

	mock.ExpectQuery(`INSERT INTO accounts`).
		WithArgs(a.ID, a.Username, a.PasswordHash, a.Role, a.IsActive).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := r.Create(context.Background(), a)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByUsername_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	mock.ExpectQuery(`SELECT .* FROM accounts WHERE username = \$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := r.GetByUsername(context.Background(), "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_RecordLoginFailure_WithLock(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	id := uuid.Must(uuid.NewV4())
	until := time.Now().Add(5 * time.Minute).UTC()

	mock.ExpectExec(`UPDATE accounts`).
		WithArgs(id, 0, &until).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, r.RecordLoginFailure(context.Background(), id, 0, &until))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_ChangePassword_RevokesSessions(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	id := uuid.Must(uuid.NewV4())
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE accounts`).
		WithArgs(id, "argon2id$fresh$digest").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE session_tokens`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectCommit()

	require.NoError(t, r.ChangePassword(context.Background(), id, "argon2id$fresh$digest", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_ChangePassword_UnknownAccount(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	id := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE accounts`).
		WithArgs(id, "hash").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := r.ChangePassword(context.Background(), id, "hash", time.Now())
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
