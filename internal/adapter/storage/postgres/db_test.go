package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"wallet-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapErr_LockFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"lock not available", &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}},
		{"deadlock detected", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}},
		{"context deadline", context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapErr("lock wallets", tt.err)
			assert.ErrorIs(t, err, ports.ErrLockTimeout)
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), "lock wallets")
		})
	}
}

func TestWrapErr_OtherFailures(t *testing.T) {
	err := wrapErr("insert event", &pgconn.PgError{Code: "23514", Message: "check constraint"})
	assert.False(t, errors.Is(err, ports.ErrLockTimeout))

	err = wrapErr("insert event", fmt.Errorf("connection reset"))
	assert.False(t, errors.Is(err, ports.ErrLockTimeout))
	assert.Contains(t, err.Error(), "insert event: connection reset")
}

func TestTransactor_SetsLockTimeout(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout = 1500").
		WillReturnResult(pgxmock.NewResult("SET", 0))

	tx, err := NewTransactor(mock, 1500*time.Millisecond).Begin(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_NoLockTimeout(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()

	_, err = NewTransactor(mock, 0).Begin(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_SetLockTimeoutFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnError(fmt.Errorf("boom"))
	mock.ExpectRollback()

	tx, err := NewTransactor(mock, time.Second).Begin(context.Background())
	assert.Error(t, err)
	assert.Nil(t, tx)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_BeginFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("too many connections"))

	_, err = NewTransactor(mock, time.Second).Begin(context.Background())
	assert.ErrorContains(t, err, "begin transaction")
}

func TestHealthCheck_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))

	hc := NewHealthCheck(mock)
	assert.NoError(t, hc.Ping(context.Background()))
	assert.Equal(t, "postgresql", hc.Name())
	assert.NoError(t, mock.ExpectationsWereMet())
}
