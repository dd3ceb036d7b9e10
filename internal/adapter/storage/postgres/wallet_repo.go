package postgres

import (
	"context"
	"errors"
	"fmt"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletSelect = `SELECT id, user_id, balance, version, created_at, updated_at FROM wallets`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Create inserts a new wallet into the database.
func (r *WalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	query := `INSERT INTO wallets (id, user_id, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		w.ID, w.UserID, w.Balance, w.Version, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ports.ErrWalletExists
		}
		return wrapErr("insert wallet", err)
	}
	return nil
}

// GetByID fetches a wallet by its UUID (without locking).
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, walletSelect+` WHERE id = $1`, id), "get wallet by id")
}

// GetByUserID fetches a user's wallet without locking.
func (r *WalletRepo) GetByUserID(ctx context.Context, tx ports.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return nil, err
	}
	return scanWallet(q.QueryRow(ctx, walletSelect+` WHERE user_id = $1`, userID), "get wallet by user id")
}

// GetByUserIDForUpdate fetches a user's wallet with pessimistic locking.
// This MUST be called within a transaction.
func (r *WalletRepo) GetByUserIDForUpdate(ctx context.Context, tx ports.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	q, err := lockingConn(tx)
	if err != nil {
		return nil, err
	}
	return scanWallet(q.QueryRow(ctx, walletSelect+` WHERE user_id = $1 FOR UPDATE`, userID), "get wallet for update by user id")
}

// LockByIDs locks every listed wallet in id order within one statement.
// This MUST be called within a transaction.
func (r *WalletRepo) LockByIDs(ctx context.Context, tx ports.Tx, ids []uuid.UUID) ([]domain.Wallet, error) {
	q, err := lockingConn(tx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, walletSelect+` WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, wrapErr("lock wallets", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		var w domain.Wallet
		if err := rows.Scan(&w.ID, &w.UserID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("lock wallets", err)
	}
	return wallets, nil
}

// OverwriteBalance stores the replayed balance and bumps the version.
func (r *WalletRepo) OverwriteBalance(ctx context.Context, tx ports.Tx, walletID uuid.UUID, balance int64) error {
	q, err := conn(r.pool, tx)
	if err != nil {
		return err
	}

	query := `UPDATE wallets SET balance = $1, version = version + 1, updated_at = NOW() WHERE id = $2`

	tag, err := q.Exec(ctx, query, balance, walletID)
	if err != nil {
		return wrapErr("update wallet balance", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", walletID)
	}
	return nil
}

func scanWallet(row pgx.Row, op string) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := row.Scan(&w.ID, &w.UserID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr(op, err)
	}
	return w, nil
}
