package postgres

import (
	"context"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWallet(userID uuid.UUID) *domain.Wallet {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Balance:   2500,
		Version:   3,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func walletColumns() []string {
	return []string{"id", "user_id", "balance", "version", "created_at", "updated_at"}
}

func walletRow(w *domain.Wallet) *pgxmock.Rows {
	return pgxmock.NewRows(walletColumns()).AddRow(
		w.ID, w.UserID, w.Balance, w.Version, w.CreatedAt, w.UpdatedAt,
	)
}

func beginMockTx(t *testing.T, mock pgxmock.PgxPoolIface) pgx.Tx {
	t.Helper()
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func TestWalletRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet(uuid.New())

	mock.ExpectExec("INSERT INTO wallets").
		WithArgs(w.ID, w.UserID, w.Balance, w.Version, w.CreatedAt, w.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), w)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_Create_Duplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	w := newTestWallet(uuid.New())
	mock.ExpectExec("INSERT INTO wallets").
		WithArgs(w.ID, w.UserID, w.Balance, w.Version, w.CreatedAt, w.UpdatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "wallets_user_id_key"})

	err = NewWalletRepo(mock).Create(context.Background(), w)
	assert.ErrorIs(t, err, ports.ErrWalletExists)
}

func TestWalletRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet(uuid.New())

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE id").
		WithArgs(w.ID).
		WillReturnRows(walletRow(w))

	result, err := repo.GetByID(context.Background(), w.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, w.ID, result.ID)
	assert.Equal(t, int64(2500), result.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_GetByUserID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	userID := uuid.New()
	mock.ExpectQuery("SELECT .+ FROM wallets WHERE user_id").
		WithArgs(userID).
		WillReturnError(pgx.ErrNoRows)

	result, err := NewWalletRepo(mock).GetByUserID(context.Background(), nil, userID)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestWalletRepo_GetByUserIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet(uuid.New())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM wallets WHERE user_id .+ FOR UPDATE").
		WithArgs(w.UserID).
		WillReturnRows(walletRow(w))

	tx := beginMockTx(t, mock)

	result, err := repo.GetByUserIDForUpdate(context.Background(), tx, w.UserID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, w.ID, result.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_GetByUserIDForUpdate_RequiresTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWalletRepo(mock).GetByUserIDForUpdate(context.Background(), nil, uuid.New())
	assert.ErrorContains(t, err, "requires a transaction")
}

func TestWalletRepo_GetByUserIDForUpdate_LockTimeout(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	userID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(userID).
		WillReturnError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})

	tx := beginMockTx(t, mock)

	_, err = NewWalletRepo(mock).GetByUserIDForUpdate(context.Background(), tx, userID)
	assert.ErrorIs(t, err, ports.ErrLockTimeout)
}

func TestWalletRepo_LockByIDs(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := newTestWallet(uuid.New())
	b := newTestWallet(uuid.New())
	ids := domain.SortWalletIDs(a.ID, b.ID)
	first, second := a, b
	if ids[0] != a.ID {
		first, second = b, a
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM wallets WHERE id = ANY\\(\\$1\\) ORDER BY id FOR UPDATE").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows(walletColumns()).
			AddRow(first.ID, first.UserID, first.Balance, first.Version, first.CreatedAt, first.UpdatedAt).
			AddRow(second.ID, second.UserID, second.Balance, second.Version, second.CreatedAt, second.UpdatedAt))

	tx := beginMockTx(t, mock)

	wallets, err := NewWalletRepo(mock).LockByIDs(context.Background(), tx, ids)
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	assert.Equal(t, ids[0], wallets[0].ID)
	assert.Equal(t, ids[1], wallets[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_OverwriteBalance(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	walletID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE wallets SET balance = .+ version = version \\+ 1").
		WithArgs(int64(9000), walletID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx := beginMockTx(t, mock)

	err = NewWalletRepo(mock).OverwriteBalance(context.Background(), tx, walletID, 9000)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_OverwriteBalance_Missing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	walletID := uuid.New()

	mock.ExpectExec("UPDATE wallets").
		WithArgs(int64(1), walletID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = NewWalletRepo(mock).OverwriteBalance(context.Background(), nil, walletID, 1)
	assert.ErrorContains(t, err, "wallet not found")
}
