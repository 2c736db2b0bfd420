package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// The production pool must satisfy the repository abstraction.
var _ PgxPool = (*pgxpool.Pool)(nil)

func TestNew_InvalidDSN(t *testing.T) {
	_, err := New(context.Background(), "://not-a-dsn")
	require.Error(t, err)
}

func TestDB_CloseDelegatesToPool(t *testing.T) {
	db, mock := newDB(t)
	db.Close()
	require.NoError(t, mock.ExpectationsWereMet())
}
